//go:build unix

package mmap

import (
	"errors"

	"golang.org/x/sys/unix"
)

var madvise = [...]int{
	AdviceNormal:     unix.MADV_NORMAL,
	AdviceSequential: unix.MADV_SEQUENTIAL,
	AdviceRandom:     unix.MADV_RANDOM,
}

func osMap(fd uintptr, size int, writable bool) ([]byte, error) {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	return unix.Mmap(int(fd), 0, size, prot, unix.MAP_SHARED)
}

func osUnmap(data []byte) error { return unix.Munmap(data) }

func osSync(data []byte) error { return unix.Msync(data, unix.MS_SYNC) }

func osAdvise(data []byte, advice Advice) error {
	if len(data) == 0 || advice < 0 || int(advice) >= len(madvise) {
		return nil
	}
	// A hint the kernel rejects is not worth failing over.
	if err := unix.Madvise(data, madvise[advice]); err != nil && !errors.Is(err, unix.EINVAL) {
		return err
	}
	return nil
}
