// Package errors provides structured error values for sharedstate.
//
// Every error carries a registered code (e.g. "S001") that maps to a
// category, a short message and a longer explanation. Errors wrap their
// cause, so errors.Is and errors.As work through them:
//
//	err := errors.New("P002").WithSubject("cart").Wrap(ioErr)
//	errors.Is(err, ioErr) // true
//
// # Codes
//
//   - S0xx: engine and async derivation failures
//   - P0xx: persistence backends
//   - C0xx: configuration
//   - H0xx: the HTTP/WebSocket binding
//
// Format renders an error for the terminal; FormatCompact renders one line
// suitable for logs.
package errors
