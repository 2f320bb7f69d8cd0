package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getRows(t *testing.T, url string) []map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rows []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	return rows
}

func TestFakeRemote_PostAssignsKeys(t *testing.T) {
	f := NewFakeRemote(t, nil)

	resp, err := http.Post(f.URL("items"), "application/json", bytes.NewBufferString(`{"Name":"a"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, float64(1), got[DefaultServerKey])
	assert.Equal(t, "a", got["Name"])

	f.Put("items", map[string]any{"ServerId": int64(10), "Name": "b"})
	next := f.Put("items", map[string]any{"Name": "c"})
	assert.Equal(t, int64(11), next[DefaultServerKey])

	rows := f.Rows("items")
	require.Len(t, rows, 3)
	assert.Equal(t, "c", rows[2]["Name"])
}

func TestFakeRemote_ChangedSince(t *testing.T) {
	clock := NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	f := NewFakeRemote(t, clock.Now)

	f.Put("items", map[string]any{"Name": "old"})
	since := clock.Advance(time.Hour)
	f.Put("items", map[string]any{"Name": "new"})

	assert.Len(t, getRows(t, f.URL("items")), 2)

	rows := getRows(t, f.URL("items")+"?changedSince="+since.Format(time.RFC3339Nano))
	require.Len(t, rows, 1)
	assert.Equal(t, "new", rows[0]["Name"])

	reqs := f.RequestsFor(http.MethodGet, "items")
	require.Len(t, reqs, 2)
	assert.Equal(t, since.Format(time.RFC3339Nano), reqs[1].Query["changedSince"])
}

func TestFakeRemote_DeleteAndFailures(t *testing.T) {
	f := NewFakeRemote(t, nil)
	f.Put("items", map[string]any{"Name": "a"})

	del := func() int {
		req, err := http.NewRequest(http.MethodDelete, f.URL("items")+"/1", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	f.FailNext(http.MethodDelete, "items", http.StatusServiceUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, del())
	assert.Len(t, f.Rows("items"), 1, "failed request leaves data alone")

	assert.Equal(t, http.StatusNoContent, del())
	assert.Equal(t, http.StatusNotFound, del())
	assert.Empty(t, f.Rows("items"))
	assert.Len(t, f.RequestsFor(http.MethodDelete, "items"), 3)
}
