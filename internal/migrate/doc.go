// Package migrate applies one-time document transformations expressed as
// views.
//
// A migration's map emits an intent keyed by document id for every
// document that still needs changing; its _count reduce lets the runner
// reject documents with more than one intent. Because migrated documents
// stop emitting, runs are resumable and a finished migration applies
// nothing when repeated.
package migrate
