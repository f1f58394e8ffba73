// Package telemetry wires OpenTelemetry trace export for the ofssl transport.
//
// It centralises tracer provider setup and applies service-wide resource
// attributes so operators can correlate handshake spans across
// a fleet of controllers and switches.
package telemetry
