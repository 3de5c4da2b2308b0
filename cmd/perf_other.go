//go:build !linux

package cmd

import (
	"errors"
)

var errPerfUnavailable = errors.New("perf counters unavailable")

func countInstructions(fn func() error) (uint64, error) {
	return 0, errPerfUnavailable
}
