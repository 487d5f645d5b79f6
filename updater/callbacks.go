package updater

import "time"

// Progress phases.
const (
	PhaseEnabling    = "enabling"
	PhaseErasing     = "erasing"
	PhaseWriting     = "writing"
	PhaseVerifying   = "verifying"
	PhaseActivating  = "activating"
	PhaseReading     = "reading"
	PhaseRollingBack = "rolling-back"
	PhaseComplete    = "complete"
)

// Progress contains information about the update progress.
// Passed to ProgressCallback during session operations.
type Progress struct {
	// Phase is one of the Phase* constants
	Phase string

	// Current and Total count the units of the phase: banks while erasing,
	// bytes while writing or reading
	Current int
	Total   int

	// Percentage is the completion of the current phase (0.0 to 100.0)
	Percentage float64

	// ElapsedTime is the time since the session was opened
	ElapsedTime time.Duration
}

// ProgressCallback is called during session operations to report progress.
// Implementations should return quickly to avoid delaying the device.
//
// Example:
//
//	s, err := updater.OpenVMM9(ctx, dev, preamble,
//	    updater.WithProgressCallback(func(p updater.Progress) {
//	        fmt.Printf("[%s] %.1f%% (%d/%d)\n", p.Phase, p.Percentage, p.Current, p.Total)
//	    }),
//	)
type ProgressCallback func(Progress)
