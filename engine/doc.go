// Package engine wires the journey subsystems together: workflow
// definition management, execution traversal, per-customer admission,
// scheduled-execution sweeping and event-driven triggering.
//
// All collaborators are constructor-injected through a [Deps] struct;
// the engine never reaches into a global registry or container.
//
// The core contract is the traversal algorithm: an execution walks its
// workflow graph one node at a time, starting at the trigger node. A
// failing node fails the execution immediately; a successful node's
// output merges into the execution context (last write wins) before
// traversal advances to the next node. Delay nodes suspend traversal
// by parking the execution back in the scheduled state with a resume
// point; the periodic sweep picks it up when due. The whole walk is
// bounded by a cooperative wall-clock timeout checked once per step.
package engine
