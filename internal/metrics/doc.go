// Package metrics exposes the pipeline's Prometheus collectors.
//
// Every Metrics value owns its registry, so independent pipelines (and tests)
// never collide on collector registration. All methods are safe on a nil
// receiver, which lets components run without instrumentation.
package metrics
