// Package decoder turns raw Contact ID and SIA panel payloads into normalized
// alarm events.
//
// Decoding is total and pure: malformed input yields an error wrapping
// ErrMalformed and a zero event, and the same input always yields the same
// event apart from the caller-supplied receive time.
package decoder
