// Package journey provides a workflow automation engine for multi-step
// customer journeys — graph-based workflows of trigger, action, delay and
// condition nodes — fed by a durable event queue with exponential backoff
// and dead-lettering.
//
// Journey is designed as a library, not a service. Import it, configure a
// store, register node handlers and channel providers, and drive the
// engine from your own entry points.
//
// # Quick Start
//
//	st := memory.New()
//	eng, err := engine.New(engine.Deps{
//	    Store:  st,
//	    Cache:  cache.NewMemory(),
//	    Nodes:  node.DefaultRegistry(providers),
//	    Limits: limits.NewManager(limits.Config{MaxConcurrent: 10}),
//	})
//
// # Architecture
//
// Journey follows a composable store pattern where each subsystem
// (workflow, execution, queue) defines its own store interface and a
// single backend implements all of them. Events enter through the durable
// queue, drain into a synchronous priority dispatcher, and fan out to the
// engine's event-trigger path, which starts one execution per matching
// active workflow.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package journey
