// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package httpclient

import (
	"context"
	"iter"
)

// PageFunc fetches one page: given the cursor from the previous page (empty on
// the first call), it returns the page's items and the next cursor. An empty
// next cursor ends the iteration.
type PageFunc[T any] func(ctx context.Context, cursor string) (items []T, next string, err error)

// Paginate walks a cursor-paginated listing lazily. Pages are fetched on
// demand as the consumer advances, so a fetch error surfaces exactly where
// the consumer stopped and no page is requested past an early break.
func Paginate[T any](ctx context.Context, fetch PageFunc[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		cursor := ""
		for {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}

			items, next, err := fetch(ctx, cursor)
			if err != nil {
				yield(zero, err)
				return
			}

			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}

			if next == "" {
				return
			}
			cursor = next
		}
	}
}

// Collect drains a paginated sequence into a slice, stopping at the first
// error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for item, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}
