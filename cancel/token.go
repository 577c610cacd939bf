// Package cancel models the cooperative abort signal threaded through every
// fragmenter suspension point (§5: "Cancellation semantics").
package cancel

import (
	"context"

	"github.com/flybywiresim/fragmenter/ferrors"
)

// Token is a cancellation token passed by reference into every async step.
// It wraps a context.Context so existing stdlib plumbing (http requests,
// time.After) composes with it directly, while giving callers a single place
// to check before resuming work after a suspension point.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Token derived from parent. Calling the returned CancelFunc
// (or cancelling parent) triggers the abort signal.
func New(parent context.Context) (*Token, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}, cancel
}

// Context returns the underlying context, for handing to transport calls.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Check returns a typed UserAborted error if the token has been cancelled,
// or nil otherwise. Call this at every suspension point before resuming.
func (t *Token) Check() error {
	select {
	case <-t.ctx.Done():
		return ferrors.New(ferrors.UserAborted, "operation cancelled")
	default:
		return nil
	}
}

// Done returns the channel that closes when the token is cancelled.
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}
