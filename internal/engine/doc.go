// Package engine matches normalized alarm events against automation rules.
//
// The working rule set is an immutable, versioned Snapshot published through
// an atomic pointer: Load validates and swaps in a new snapshot while
// concurrent Evaluate calls keep reading the one they started with.
//
// Evaluation of a single event walks the candidate rules in priority order,
// AND-combines their conditions, and hands every action of each matching rule
// to a Dispatcher without waiting for it to run. A rule whose schedule or
// conditions cannot be evaluated is logged and treated as not matching.
package engine
