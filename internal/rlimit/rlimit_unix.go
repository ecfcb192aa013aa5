//go:build !windows

// Package rlimit contains a function to raise the file descriptor limit.
package rlimit

import (
	"syscall"
)

// Raise raises the soft limit of open file descriptors up to the hard limit.
// Every SRT connection and every open segment consumes a descriptor.
func Raise() (uint64, error) {
	var rlim syscall.Rlimit
	err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlim)
	if err != nil {
		return 0, err
	}

	if rlim.Cur >= rlim.Max {
		return uint64(rlim.Cur), nil
	}

	rlim.Cur = rlim.Max
	err = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rlim)
	if err != nil {
		return 0, err
	}

	err = syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlim)
	if err != nil {
		return 0, err
	}

	return uint64(rlim.Cur), nil
}
