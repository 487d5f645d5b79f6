// Package transport executes remote-control commands against a hub.
//
// Two executors share one Request type:
//
//   - HIDTransport frames each request as a Set report and polls Get
//     reports until the busy bit of the echoed ctrl byte clears.
//   - RegisterTransport writes the same fields to the remote-control
//     registers and polls the command register.
//
// Both poll a fixed number of times at a fixed interval (see Config) and
// report exhaustion as a *TimeoutError. Device results other than success
// are returned as *protocol.ProtocolError and malformed replies as
// *protocol.DecodeError; neither is retried.
//
// The raw I/O is supplied by the caller through ReportDevice or
// RegisterDevice. See the usbhid and dpaux subpackages for implementations.
package transport
