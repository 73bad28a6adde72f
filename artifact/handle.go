package artifact

import (
	"context"
	"sync/atomic"
)

// Source is what a Handle refreshes from. *Store implements it.
type Source interface {
	LatestID(ctx context.Context) (string, error)
	Load(ctx context.Context, id string) (*Bundle, error)
}

// Handle owns the bundle currently being served. Readers take the pointer
// once per request and keep using it even if a reload swaps in a newer
// bundle meanwhile; bundles are immutable so no locking is needed.
type Handle struct {
	p atomic.Pointer[Bundle]
}

// NewHandle returns a handle serving b, which may be nil.
func NewHandle(b *Bundle) *Handle {
	h := &Handle{}
	if b != nil {
		h.p.Store(b)
	}
	return h
}

// Current returns the bundle being served, or nil before the first load.
func (h *Handle) Current() *Bundle {
	return h.p.Load()
}

// Swap installs b and returns the previous bundle.
func (h *Handle) Swap(b *Bundle) *Bundle {
	return h.p.Swap(b)
}

// Refresh loads the latest artifact of src and installs it if its ID differs
// from the current one. On error the current bundle stays in place.
func (h *Handle) Refresh(ctx context.Context, src Source) (changed bool, err error) {
	id, err := src.LatestID(ctx)
	if err != nil {
		return false, err
	}
	if cur := h.Current(); cur != nil && cur.ID == id {
		return false, nil
	}
	b, err := src.Load(ctx, id)
	if err != nil {
		return false, err
	}
	h.Swap(b)
	return true, nil
}
