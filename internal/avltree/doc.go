// Package avltree implements the ordered index of a column: an AVL tree whose
// nodes live in fixed-size slots of a memory-mapped file.
//
// Slot r holds the node of row r, so a row identifier is also the address of
// its node and Get is a single slot read. Nodes carry parent pointers, which
// makes in-order neighbours (Next, Prev) cheap; order-equal values are inserted
// at the end of their run and therefore stay adjacent, which is what HasTwin
// relies on.
//
// # File Layout
//
//	Offset  Size  Field
//	0       8     magic "NSAVL\x00\x01\x00"
//	8       4     version
//	12      4     root row
//	16      4     number of live rows
//	20      4     highest row ever linked (max row)
//	24      4     allocation lot
//	32      32    tag (value kind name, zero padded)
//	64      48*n  slots; slot 0 is unused
//
// Slot:
//
//	parent u32 | left u32 | right u32 | height u8 | flags u8 | pad u16 |
//	offset u64 | length u32 | value flags u32 | num f64 | pad u64
//
// The file grows by the allocation lot (in slots) whenever a row beyond the
// mapped capacity is linked. Vacant rows at or below the max row are tracked in
// a roaring bitmap that is rebuilt on open.
//
// A Tree is not safe for concurrent mutation.
package avltree
