// Package invalidate signals read caches that document data changed.
package invalidate

import (
	"context"
)

// Collection names a logical read cache.
type Collection string

const (
	Documents Collection = "documents"
	Folders   Collection = "folders"
	Dashboard Collection = "dashboard"
)

// AfterUpload is the set refreshed once an upload batch drains.
var AfterUpload = []Collection{Documents, Folders, Dashboard}

// Invalidator refreshes the given collections.
type Invalidator interface {
	Invalidate(ctx context.Context, collections ...Collection) error
}

// Func adapts a plain function to Invalidator.
type Func func(ctx context.Context, collections ...Collection) error

// Invalidate calls f.
func (f Func) Invalidate(ctx context.Context, collections ...Collection) error {
	return f(ctx, collections...)
}

// Nop discards every signal.
type Nop struct{}

// Invalidate does nothing.
func (Nop) Invalidate(context.Context, ...Collection) error { return nil }
