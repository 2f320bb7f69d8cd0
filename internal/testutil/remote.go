package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// DefaultServerKey is the key column of fake collections unless
// configured otherwise.
const DefaultServerKey = "ServerId"

// RecordedRequest is one request received by a FakeRemote.
type RecordedRequest struct {
	Method string
	Path   string
	Query  map[string]string
	Header http.Header
	Body   map[string]any
}

type fakeRow struct {
	data    map[string]any
	changed time.Time
}

type fakeCollection struct {
	key    string
	nextID int64
	rows   map[string]*fakeRow
}

// FakeRemote is an in-memory sync remote served by gin over httptest.
//
// For every collection it serves:
//
//	GET    /<collection>[?changedSince=<RFC3339>]  rows changed at or after the time
//	POST   /<collection>                           upsert by key; assigns a key when absent
//	DELETE /<collection>/<key>                     remove; 404 if missing
//
// Change times come from the clock passed to NewFakeRemote.
type FakeRemote struct {
	server *httptest.Server
	now    func() time.Time

	mu          sync.Mutex
	collections map[string]*fakeCollection
	requests    []RecordedRequest
	failures    map[string]int
}

// NewFakeRemote starts a fake remote and stops it when the test ends. now
// may be nil for the wall clock.
func NewFakeRemote(t *testing.T, now func() time.Time) *FakeRemote {
	t.Helper()
	if now == nil {
		now = time.Now
	}
	f := &FakeRemote{
		now:         now,
		collections: make(map[string]*fakeCollection),
		failures:    make(map[string]int),
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(f.record)
	r.GET("/:collection", f.list)
	r.POST("/:collection", f.upsert)
	r.DELETE("/:collection/:id", f.remove)

	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the base URL of a collection.
func (f *FakeRemote) URL(collection string) string {
	return f.server.URL + "/" + collection
}

// Collection configures the key column of a collection.
func (f *FakeRemote) Collection(name, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collection(name).key = key
}

// Put stores a row as if it changed now. A missing key is assigned.
func (f *FakeRemote) Put(collection string, row map[string]any) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.put(collection, row)
}

// Rows returns a collection's rows ordered by key.
func (f *FakeRemote) Rows(collection string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.collection(collection)
	out := make([]map[string]any, 0, len(c.rows))
	for _, id := range sortedIDs(c) {
		out = append(out, copyMap(c.rows[id].data))
	}
	return out
}

// Remove deletes a row as if another client had deleted it. It reports
// whether the row existed.
func (f *FakeRemote) Remove(collection string, key any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.collection(collection)
	id := fmt.Sprint(key)
	if _, ok := c.rows[id]; !ok {
		return false
	}
	delete(c.rows, id)
	return true
}

// FailNext makes the next request with method on collection answer status.
func (f *FakeRemote) FailNext(method, collection string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method+" "+collection] = status
}

// Requests returns the requests received so far.
func (f *FakeRemote) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RecordedRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// RequestsFor returns the requests with method on collection.
func (f *FakeRemote) RequestsFor(method, collection string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range f.Requests() {
		if r.Method == method && (r.Path == "/"+collection || strings.HasPrefix(r.Path, "/"+collection+"/")) {
			out = append(out, r)
		}
	}
	return out
}

func (f *FakeRemote) record(c *gin.Context) {
	req := RecordedRequest{
		Method: c.Request.Method,
		Path:   c.Request.URL.Path,
		Query:  make(map[string]string),
		Header: c.Request.Header.Clone(),
	}
	for k := range c.Request.URL.Query() {
		req.Query[k] = c.Query(k)
	}
	if c.Request.Method == http.MethodPost {
		dec := json.NewDecoder(c.Request.Body)
		dec.UseNumber()
		var body map[string]any
		if err := dec.Decode(&body); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.Body = body
		c.Set("body", body)
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	key := c.Request.Method + " " + c.Param("collection")
	status, fail := f.failures[key]
	delete(f.failures, key)
	f.mu.Unlock()

	if fail {
		c.AbortWithStatusJSON(status, gin.H{"error": "injected failure"})
		return
	}
	c.Next()
}

func (f *FakeRemote) list(c *gin.Context) {
	var since time.Time
	if raw := c.Query("changedSince"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		since = t
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	col := f.collection(c.Param("collection"))
	out := make([]map[string]any, 0, len(col.rows))
	for _, id := range sortedIDs(col) {
		row := col.rows[id]
		if !since.IsZero() && row.changed.Before(since) {
			continue
		}
		out = append(out, row.data)
	}
	c.JSON(http.StatusOK, out)
}

func (f *FakeRemote) upsert(c *gin.Context) {
	body, _ := c.MustGet("body").(map[string]any)
	f.mu.Lock()
	defer f.mu.Unlock()
	c.JSON(http.StatusOK, f.put(c.Param("collection"), body))
}

func (f *FakeRemote) remove(c *gin.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	col := f.collection(c.Param("collection"))
	id := c.Param("id")
	if _, ok := col.rows[id]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	delete(col.rows, id)
	c.Status(http.StatusNoContent)
}

func (f *FakeRemote) collection(name string) *fakeCollection {
	c, ok := f.collections[name]
	if !ok {
		c = &fakeCollection{key: DefaultServerKey, rows: make(map[string]*fakeRow)}
		f.collections[name] = c
	}
	return c
}

func (f *FakeRemote) put(collection string, row map[string]any) map[string]any {
	c := f.collection(collection)
	data := copyMap(row)
	if data[c.key] == nil {
		c.nextID++
		data[c.key] = c.nextID
	}
	id := fmt.Sprint(data[c.key])
	if existing, ok := c.rows[id]; ok {
		for k, v := range data {
			existing.data[k] = v
		}
		existing.changed = f.now()
		return copyMap(existing.data)
	}
	if n, ok := asInt64(data[c.key]); ok && n > c.nextID {
		c.nextID = n
	}
	c.rows[id] = &fakeRow{data: data, changed: f.now()}
	return copyMap(data)
}

func sortedIDs(c *fakeCollection) []string {
	ids := make([]string, 0, len(c.rows))
	for id := range c.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) < len(ids[j])
		}
		return ids[i] < ids[j]
	})
	return ids
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}
