// Package audit buffers session-lifecycle events and relays them to a Sink.
//
// The Engine decides which events exist; this package only moves them. Sinks provided
// here write to a channel, a JSON-lines writer or a slog.Logger.
package audit
