package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/ormso/internal/model"
	"github.com/roach88/ormso/internal/schema"
	"github.com/roach88/ormso/internal/where"
)

// Watermark returns the persisted last-sync time of a table. The second
// result is false when the table never synced successfully.
func (e *Engine) Watermark(ctx context.Context, table string) (time.Time, bool, error) {
	row, err := e.stateRow(ctx, table)
	if err != nil || row == nil {
		return time.Time{}, false, err
	}
	t, ok := row.Value("LastSync").(time.Time)
	if !ok {
		return time.Time{}, false, nil
	}
	return t, true, nil
}

// ResetWatermark forgets a table's watermark so the next sync is a full
// first sync.
func (e *Engine) ResetWatermark(ctx context.Context, table string) error {
	if _, err := e.binding(table); err != nil {
		return err
	}
	row, err := e.stateRow(ctx, table)
	if err != nil || row == nil {
		return err
	}
	_, err = e.state.Delete(ctx, row)
	return err
}

func (e *Engine) saveWatermark(ctx context.Context, table string, t time.Time) error {
	row, err := e.stateRow(ctx, table)
	if err != nil {
		return err
	}
	if row == nil {
		_, err = e.state.Insert(ctx, schema.NewRow(map[string]any{
			"TableName": table,
			"LastSync":  t,
		}))
	} else {
		_, err = e.state.Update(ctx, schema.NewRow(map[string]any{
			"Id":       row.Value("Id"),
			"LastSync": t,
		}))
	}
	if err != nil {
		return fmt.Errorf("save watermark: %w", err)
	}
	return nil
}

func (e *Engine) stateRow(ctx context.Context, table string) (*schema.Row, error) {
	res, err := e.state.Select(ctx, &model.SelectOptions{
		Where: where.Eq("TableName", table),
		Take:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("load watermark: %w", err)
	}
	if len(res.Rows) == 0 {
		return nil, nil
	}
	return res.Rows[0], nil
}
