package preflight

import (
	"context"

	"fleetsync/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
	// Required marks checks that block the agent from starting.
	Required bool
}

// Pinger reports whether the remote backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunAll executes all applicable preflight checks for the given config.
// The backend check is skipped when pinger is nil.
func RunAll(ctx context.Context, cfg *config.Config, pinger Pinger) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, required(CheckDirectoryAccess("Data directory", cfg.Paths.DataDir)))
	if cfg.Paths.LogDir != "" && cfg.Paths.LogDir != cfg.Paths.DataDir {
		results = append(results, required(CheckDirectoryAccess("Log directory", cfg.Paths.LogDir)))
	}
	if cfg.Queue.Backend == "" || cfg.Queue.Backend == "sqlite" {
		results = append(results, required(CheckFreeSpace("Queue disk space", cfg.Paths.DataDir, MinFreeBytes)))
	}
	if pinger != nil {
		results = append(results, CheckBackend(ctx, pinger))
	}
	return results
}

// Blocking returns the required checks that failed.
func Blocking(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if r.Required && !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

func required(r Result) Result {
	r.Required = true
	return r
}
