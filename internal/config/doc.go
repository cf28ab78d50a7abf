// Package config defines the settings of the pipeline binaries and provides
// helpers to load, validate and save them in YAML format.
//
// Load layers ALARM_PIPELINE_* environment variables over the file, so
// http.listen_addr is overridden by ALARM_PIPELINE_HTTP_LISTEN_ADDR.
package config
