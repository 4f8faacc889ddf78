// Package natstore provides a deduplicating, order-maintaining column store.
//
// A Column maps stable row identifiers to byte strings. Rows are kept in
// natural order ("file2" before "file10") or, with the Numeric kind, in
// numeric order, and byte-equal values are stored once no matter how many
// rows hold them.
//
// # Quick Start
//
//	ctx := context.Background()
//	col, _ := natstore.Open("./data/names")
//	defer col.Close()
//
//	row, _ := col.FindOrInsert(ctx, []byte("b10"))
//	_ = col.Set(ctx, 7, []byte("b2"))
//
//	for row, value := range col.Ascend() {
//	    fmt.Println(row, string(value))
//	}
//
// # Storage
//
// A column directory holds two memory-mapped files: ".i", a fixed-slot AVL
// tree with one slot per row, and ".d", an append-mostly data file whose
// freed records are reused. Equal values sort next to each other and share
// one data record; a record is freed when the last row holding it releases
// it, which is detected by probing the row's neighbours in the tree.
//
// # Concurrency
//
// A Column is safe for concurrent use. Writers are serialized; readers,
// including range loops over the traversal iterators, run in parallel.
//
// # Snapshots
//
// Package snapshot exports a column to a compressed stream and backs it up to
// any blobstore.BlobStore (local files, memory, MinIO or Amazon S3).
package natstore
