// Package compiler turns view definitions into design documents.
//
// Compile validates a definition before any function body is touched, then
// passes each body through a Dialect, the backend that produces the text a
// store's view engine executes. Builtin reducer names pass through as-is.
//
// Every design document has a "default" subview carrying only the map, so
// unreduced rows stay queryable whatever the reduce shape. A single reduce
// adds a subview named after the view; named reduces add one subview each.
//
// Two dialects ship with the package:
//   - Native registers Go closures and emits "native:<symbol>" references,
//     run by the embedded store's engine.
//   - JavaScript lowers source to ES2015 (or ES5) for CouchDB-style servers.
//
// ParseView and ParseMigration read definitions from CUE values.
package compiler
