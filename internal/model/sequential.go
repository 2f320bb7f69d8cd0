package model

import "context"

// Sequential runs fn over items one at a time in order and stops at the
// first error. The context is checked between steps.
func Sequential[T any](ctx context.Context, items []T, fn func(context.Context, T) error) error {
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, item); err != nil {
			return err
		}
	}
	return nil
}
