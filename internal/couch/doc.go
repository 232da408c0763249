// Package couch implements the store contract against a CouchDB database
// using the go-couchdb client.
//
// Design document ids are stored under CouchDB's _design/ prefix and
// reported back in the design: form. Failed requests become *store.Error
// values classified by the reason CouchDB gives, so a missing design
// document, a deleted one and an unknown view all read as a view that is
// not deployed. Views deployed here must use the javascript dialect; the
// builtin views ship a JavaScript form for this.
package couch
