//go:build !unix

package mmap

import "errors"

func osMap(uintptr, int, bool) ([]byte, error) { return nil, errors.ErrUnsupported }
func osUnmap([]byte) error                     { return errors.ErrUnsupported }
func osSync([]byte) error                      { return errors.ErrUnsupported }
func osAdvise([]byte, Advice) error            { return nil }
