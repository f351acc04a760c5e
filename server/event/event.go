// Package event exposes a single exported type, event.Context, which may be
// used to influence the execution flow of events that occur on a server.
package event

// C returns a new event context, usable for cancelling events or waiting on
// their execution. The value passed is carried by the Context and may be
// retrieved again using Context.Val.
func C[T any](v T) *Context[T] {
	return &Context[T]{val: v}
}

// Context represents the context of an event. Handlers of an event may call
// methods on the context to change the result of the event.
type Context[T any] struct {
	cancel bool
	val    T
}

// Val returns the value that the Context was created with in event.C.
func (ctx *Context[T]) Val() T {
	return ctx.val
}

// Cancelled returns whether the Context has been cancelled.
func (ctx *Context[T]) Cancelled() bool {
	return ctx.cancel
}

// Cancel cancels the context.
func (ctx *Context[T]) Cancel() {
	ctx.cancel = true
}
