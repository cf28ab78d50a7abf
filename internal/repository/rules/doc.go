// Package rules loads automation rules from a YAML file or the Postgres
// automation_rules table and hands them to the engine.
//
// The Reloader drives reloads at start up, on request and on change
// notifications; a failed load keeps the previously active rule set.
package rules
