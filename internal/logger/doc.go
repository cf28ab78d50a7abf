// Package logger is the zap wrapper shared by the pipeline binaries.
//
// A single sugared logger writes console lines to stdout. Stages carry it in
// their context: WithName scopes it to a component ("receiver", "rules",
// "fabric") and WithKV attaches event IDs and accounts, so every
// line from one alarm can be followed through classification, rule matching
// and action dispatch. The global level is set once at startup from the
// configuration or the --log-level flag; WithMinLevel raises it for a
// single logger.
package logger
