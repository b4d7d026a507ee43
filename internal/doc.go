// Package internal holds helpers private to goSession: refresh-token randomness and
// hashing.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: pure-function orchestration of register, login, refresh and logout
//   - sweep: ticker-driven background maintenance tasks
//   - appconfig: YAML + .env configuration loading for cmd/sessiond
//   - rate: per-address request throttling for cmd/sessiond
package internal
