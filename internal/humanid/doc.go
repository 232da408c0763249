// Package humanid assigns short human identifiers to documents and
// resolves them back through two builtin views.
//
// A document's human identifier lives at meta.humanId. The humanid_by_id
// view maps document ids to human identifiers; humanid_prefixes counts, per
// prefix, how many identifiers start with it. Both lookups are single batch
// queries regardless of how many ids are asked for.
package humanid
