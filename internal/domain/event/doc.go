// Package event defines the normalized alarm event shared by every pipeline stage.
//
// AlarmEvent is produced by the protocol decoders and then only copied, never
// modified; priority and description are fixed at creation time.
package event
