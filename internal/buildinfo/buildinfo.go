package buildinfo

import "time"

// Set via -ldflags at build time
var (
	BuildTime  string // when the binary was compiled
	CommitTime string // last git commit time (last code edit)
	CommitHash string // short git commit hash
)

// StartTime is recorded when the process starts
var StartTime = time.Now().UTC().Format(time.RFC3339)

// Summary returns a single-line build description for logs and the health
// endpoint. Fields left empty by the build are omitted.
func Summary() string {
	s := "dev"
	if CommitHash != "" {
		s = CommitHash
	}
	if BuildTime != "" {
		s += " built " + BuildTime
	}
	return s
}
