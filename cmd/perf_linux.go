//go:build linux

package cmd

import (
	"errors"
	"fmt"
	"runtime"

	perf "github.com/hodgesds/perf-utils"
)

var errPerfUnavailable = errors.New("perf counters unavailable")

// countInstructions runs fn on a locked OS thread and returns the number of
// CPU instructions it retired
func countInstructions(fn func() error) (count uint64, err error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	var runErr error
	pv, err := perf.CPUInstructions(func() error {
		runErr = fn()
		return runErr
	})
	if runErr != nil {
		return 0, runErr
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errPerfUnavailable, err)
	}
	return pv.Value, nil
}
