// Package node defines the node handler contract and the built-in
// handler kinds: trigger, action, delay, condition, and custom.
//
// Every handler shares one lifecycle, driven by a single generic
// [Runner] rather than per-type duplication:
//
//  1. Reject re-entrant execution of the same handler instance.
//  2. Validate the node config against the handler's declared schema,
//     collecting every violation.
//  3. Run the handler-specific validation hook, if implemented.
//  4. Invoke the type-specific execution body.
//  5. Normalize the outcome into a [workflow.NodeResult] envelope.
//
// The "executing" guard is cleared on every exit path, including panics.
//
// Handlers are looked up through an explicit [Registry] (type tag →
// factory) populated once at startup — never by scanning source at
// runtime.
package node
