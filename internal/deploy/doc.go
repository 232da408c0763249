// Package deploy installs compiled design documents into a store.
//
// Deploy is idempotent and conflict-aware: the stored document's revision
// is always carried forward on update, and the chosen Strategy decides
// whether an existing document is overwritten, kept, or reported.
// SetupAll deploys builtin, project and migration views concurrently and
// reports each outcome on its own.
package deploy
