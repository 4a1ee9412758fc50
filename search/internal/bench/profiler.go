package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/pprof"
)

func startCpuProfiler(logger *slog.Logger, filename string) (func(), error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("could not create CPU profile: %w", err)
	}

	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("could not start CPU profile: %w", err)
	}

	return func() {
		pprof.StopCPUProfile()
		if err := f.Close(); err != nil {
			logger.Error("could not close profile file", "file", filename, "error", err)
		}
	}, nil
}
