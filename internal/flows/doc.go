// Package flows holds the Engine's orchestration logic as plain functions.
//
// Each Run* function takes a dependency struct of funcs and returns a result tagged with a
// failure kind. The root package owns the resources, maps kinds to public errors and
// emits metrics and audit events; nothing here holds state between calls or imports it.
package flows
