// Package audit relays security events to a Sink off the request path.
//
// The Dispatcher buffers events in a bounded channel drained by one
// goroutine. When DropIfFull is set a full buffer drops the event and bumps
// a counter instead of blocking the caller. Close drains what is buffered.
package audit
