// Package store holds the pieces shared by every storage backend.
package store

import "context"

// TxRunner runs fn inside one transaction. The context passed to fn
// carries the transaction; repository calls made with it join that
// transaction, and a nested WithTx call with it reuses the outer
// transaction instead of opening a new one.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// AfterCommit schedules fn to run once the transaction carried by ctx
	// commits. Without a transaction fn runs immediately. Hooks of a rolled
	// back transaction are dropped.
	AfterCommit(ctx context.Context, fn func())
}

// Hooks collects after-commit callbacks for one transaction.
type Hooks struct {
	fns []func()
}

func (h *Hooks) Add(fn func()) { h.fns = append(h.fns, fn) }

// Run invokes the collected callbacks in registration order.
func (h *Hooks) Run() {
	for _, fn := range h.fns {
		fn()
	}
	h.fns = nil
}
