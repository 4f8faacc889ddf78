// Package snapshot exports a Column as a self-describing stream and imports it
// back, locally or through a blobstore.BlobStore.
//
// # Format
//
// A snapshot starts with the magic "NSSNAP01", the length-prefixed name of the
// codec used for the manifest, and the codec-encoded Manifest itself. Frames
// follow. Each frame has a 12 byte header {rawLen, compLen, crc32c} followed by
// compLen payload bytes; when compLen equals rawLen the payload is stored
// uncompressed. The checksum covers the stored payload. A frame header of zeros
// ends the stream.
//
// Decompressed frames hold {row u32, len u32, bytes} records in ascending value
// order. All integers are little endian.
//
// # Usage
//
//	store := blobstore.NewLocalStore("/var/backups")
//	if _, err := snapshot.Backup(ctx, col, store, "names.nss",
//	    func(o *snapshot.Options) { o.Compression = snapshot.CompressionZSTD },
//	); err != nil {
//	    return err
//	}
//
//	// later, into an empty column
//	m, err := snapshot.Restore(ctx, col, store, "names.nss")
package snapshot
