package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/install"
)

// consoleReporter prints orchestrator events for a terminal.
type consoleReporter struct {
	out     io.Writer
	errOut  io.Writer
	success string
}

func newConsoleReporter(out, errOut io.Writer, success string) *consoleReporter {
	return &consoleReporter{out: out, errOut: errOut, success: success}
}

func (r *consoleReporter) Progress(percent int) {
	fmt.Fprintf(r.out, "  [%3d%%]\n", percent)
}

func (r *consoleReporter) Message(text string) {
	fmt.Fprintf(r.out, "  %s\n", text)
}

func (r *consoleReporter) Success() {
	fmt.Fprintf(r.out, "✓ %s\n", r.success)
}

func (r *consoleReporter) Failure(f *install.Failure) {
	fmt.Fprintf(r.errOut, "✗ %s (%s)\n", f.Error(), f.Kind)

	keys := make([]string, 0, len(f.Extra))
	for k := range f.Extra {
		if k == install.ExtraPhase {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(r.errOut, "    %s: %s\n", k, f.Extra[k])
	}
	if hint := failureHint(f.Kind); hint != "" {
		fmt.Fprintln(r.errOut)
		fmt.Fprintf(r.errOut, "%s\n", hint)
	}
}

func failureHint(kind install.Kind) string {
	switch kind {
	case install.KindLinuxPermissionsRequired:
		return "Run 'modpatch grant-access' to give your user write access to the host files."
	case install.KindVersionOutdated:
		return "Update the host application, or pass --force to install anyway."
	case install.KindVersionTooNew:
		return "Wait for a mod update, or pass --force to install anyway."
	case install.KindChecksumMismatch:
		return "The download was corrupted or tampered with. Run 'modpatch clear-cache' and retry."
	default:
		return ""
	}
}
