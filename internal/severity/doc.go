// Package severity derives an event's priority tier and description from its
// protocol and event code using static per-protocol tables.
package severity
