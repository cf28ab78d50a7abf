// Package receiver accepts panel reports over TCP.
//
// Each line is one payload. The receiver answers every line with a single
// byte: ACK (0x06) once the event is accepted, NAK (0x15) when it cannot be
// decoded. A payload repeated by the same peer inside the dedupe window is
// acknowledged again without being processed twice.
package receiver
