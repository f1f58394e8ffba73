// Package stream implements a non-blocking TLS transport for the OpenFlow
// control channel: an active ("ssl:") stream, a passive ("pssl:") listener,
// and the process-wide credential and trust configuration they share.
//
// The defining constraint is that every operation is driven by an external
// poll loop rather than by blocking on I/O. A stream advances one step at a
// time — TCP connect, then TLS handshake, then full-duplex encrypted I/O —
// and every step that cannot complete immediately returns ErrAgain along
// with enough state (rx_want / tx_want) for the caller to arm the right
// readiness mask and try again later.
package stream
