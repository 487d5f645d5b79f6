package main

import (
	"fmt"
	"io"
	"time"

	"github.com/moffa90/go-synmst/updater"
)

// render prints progress until the channel is closed. Each phase gets its
// own line, redrawn in place.
func render(w io.Writer, progress <-chan updater.Progress) {
	phase := ""
	for p := range progress {
		if p.Phase != phase {
			if phase != "" {
				fmt.Fprintln(w)
			}
			phase = p.Phase
		}
		if p.Total > 0 {
			fmt.Fprintf(w, "\r%-13s %5.1f%% (%d/%d) %s", p.Phase, p.Percentage, p.Current, p.Total, p.ElapsedTime.Round(10*time.Millisecond))
		} else {
			fmt.Fprintf(w, "\r%-13s", p.Phase)
		}
	}
	if phase != "" {
		fmt.Fprintln(w)
	}
}
