// Package natsort implements natural (alphanumeric) ordering of byte strings.
//
// Runs of ASCII digits are compared as numbers instead of byte by byte, so
// "file2" sorts before "file10". A run that starts with '0' on either side is
// compared digit by digit from the left, which keeps "015" before "12":
//
//	natsort.Compare([]byte("file2"), []byte("file10")) // -1
//	natsort.Compare([]byte("015"), []byte("12"))       // -1
//
// Two inputs compare equal only if they are byte-equal, so the order can be
// used as the key order of an index that deduplicates equal values.
package natsort
