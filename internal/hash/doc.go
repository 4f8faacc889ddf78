// Package hash provides the checksums used by natstore's on-disk formats.
//
// Every data-file record and every snapshot frame carries a CRC32-Castagnoli
// (CRC32C) checksum of its payload. Go's hash/crc32 uses the SSE4.2 and ARM
// CRC instructions for this polynomial when they are available.
//
//	sum := hash.CRC32C(payload)
//
//	h := hash.NewCRC32C()
//	h.Write(chunk1)
//	h.Write(chunk2)
//	sum = h.Sum32()
package hash
