// Package minio provides a BlobStore implementation using the MinIO client.
//
// It works with MinIO and any S3-compatible storage such as Ceph, Garage or
// SeaweedFS, and needs no AWS SDK.
//
// # Basic Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "backups", minioblob.WithPrefix("columns/"))
//	err = snapshot.Backup(ctx, col, store, "names.nss")
package minio
