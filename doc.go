// Package prefixset implements a compact, read-optimized set of IPv4
// or IPv6 CIDR prefixes.
//
// A Builder accumulates prefixes via Add and is consumed once by
// Build, which collapses the accumulated trie into a single
// contiguous byte buffer wrapped by a Set. A Set answers Contains
// queries by walking that buffer; it is immutable and safe for
// concurrent use by any number of goroutines once built.
//
// There is no support for deleting a prefix, mutating a Set after
// Build, or enumerating the prefixes a Set holds - rebuild a new
// Builder/Set pair instead.
package prefixset
