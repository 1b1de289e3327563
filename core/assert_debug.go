//go:build debug

package core

import (
	"fmt"
	"runtime"
)

// debugAssertions reports whether home-slot checks are compiled in.
const debugAssertions = true

func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	// "goroutine 123 [running]:\n"
	var id uint64
	_, _ = fmt.Sscanf(string(buf[:n]), "goroutine %d ", &id)
	return id
}
