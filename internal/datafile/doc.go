// Package datafile implements the content store of a column: an append-mostly
// file of variable-length records addressed by Location.
//
// # File Layout
//
//	Offset  Size  Field
//	0       8     magic "NSDAT\x00\x01\x00"
//	8       8     tail (end of the last record)
//	16      ...   records
//
// Each record is a 16-byte header followed by the payload padded to 8 bytes:
//
//	capacity u32 | length u32 | crc32c u32 | flags u32 | payload...
//
// A Location points at the payload, so resolving it is a bounds check plus a
// slice of the read-only mapping. Deleted records are flagged free and their
// capacity is handed out again best-fit; the free list is rebuilt by scanning
// the records on open.
//
// A File is not safe for concurrent mutation. Bytes may run concurrently with
// other Bytes calls.
package datafile
