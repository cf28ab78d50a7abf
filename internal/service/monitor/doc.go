// Package monitor subscribes to the distribution fabric and prints every
// event and notification it receives.
package monitor
