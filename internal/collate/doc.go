// Package collate implements the store's total order over keys and the range
// algebra built on it.
//
// Order across kinds: null < false < true < numbers < strings < arrays <
// objects. Strings compare by UTF-16 code units (raw collation). Arrays
// compare element-wise, then by length. Objects compare pairwise in sorted
// key order (key first, then value), then by size.
//
// RangeForPrefix returns bounds for "starts with" queries. The end bound is
// exclusive: query with inclusive_end=false.
package collate
