// Package rule holds automation rule definitions: conditions over event
// attributes, an optional weekly schedule, and typed actions.
package rule
