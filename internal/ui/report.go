package ui

import (
	"fmt"
	"io"
	"strings"
)

// Check is one line of a verification report.
type Check struct {
	Label string
	OK    bool
	// Skip hides the check when it does not apply to the artifact kind.
	Skip bool
}

// Report writes a titled list of checks followed by a verdict line.
// It returns the overall outcome: true only when every shown check passed.
func Report(w io.Writer, title string, checks []Check) bool {
	fmt.Fprintln(w, Bold(title))
	fmt.Fprintln(w, Dim(strings.Repeat("─", len([]rune(title)))))

	valid := true
	for _, c := range checks {
		if c.Skip {
			continue
		}
		tag := OKTag()
		if !c.OK {
			tag = FailTag()
			valid = false
		}
		fmt.Fprintf(w, "  %s %s\n", tag, c.Label)
	}

	fmt.Fprintln(w)
	if valid {
		fmt.Fprintf(w, "%s\n", Green("VALID"))
	} else {
		fmt.Fprintf(w, "%s\n", Red("INVALID"))
	}
	return valid
}
