package world

import (
	"github.com/basalt-mc/basalt/server/event"
)

// Handler handles events that are called by a World. Implementations of
// Handler may be used to listen to entity traffic of a World by calling
// World.Handle.
type Handler interface {
	// HandleEntityAdd handles an entity being added to the World through a
	// call to World.AddEntity. ctx.Cancel() aborts the add before any state
	// of the World or the entity is touched.
	HandleEntityAdd(ctx *event.Context[*World], e *Entity)
	// HandleEntityRemove handles an entity being removed from the World
	// through a call to World.RemoveEntity or a chunk unload. ctx.Cancel()
	// keeps the entity in the World.
	HandleEntityRemove(ctx *event.Context[*World], e *Entity)
	// HandleClose handles the World being closed. HandleClose is called
	// before any chunk is saved, so that handlers may run final mutations.
	HandleClose(w *World)
}

// NopHandler implements the Handler interface but does not execute any code
// when an event is called. The default Handler of worlds is NopHandler.
// Users may embed NopHandler to avoid having to implement each method.
type NopHandler struct{}

// Compile time check to make sure NopHandler implements Handler.
var _ Handler = NopHandler{}

func (NopHandler) HandleEntityAdd(*event.Context[*World], *Entity)    {}
func (NopHandler) HandleEntityRemove(*event.Context[*World], *Entity) {}
func (NopHandler) HandleClose(*World)                                 {}
