// Package action executes the side effects of matched rules.
//
// A Pool owns a bounded queue and a fixed set of workers. Dispatch never
// blocks: when the queue is full the request is dropped and counted. Each
// request runs under its own timeout and panic guard, so one failing action
// never affects its siblings. Executors are registered per action type.
package action
