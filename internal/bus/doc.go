// Package bus connects the pipeline to NATS. Processed events are published
// for the persistence collaborator and rule change notifications trigger
// reloads.
package bus
