// Package s3 provides an Amazon S3 implementation of blobstore.BlobStore.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("columns/"),
//	    s3.WithRegion("eu-central-1"),
//	)
//	err = snapshot.Backup(ctx, col, store, "names.nss")
//
// Large snapshots are streamed through the transfer manager, which uses
// multipart uploads and aborts them on failure. Reads use ranged GETs.
package s3
