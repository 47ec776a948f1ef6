// Package resign refreshes the integrity metadata a host application keeps
// for its packed archive, so the host's loader accepts a modified archive.
//
// Each platform has one implementation, chosen once by ForPlatform:
//
//   - windows: a JSON resource embedded in the host executable is patched
//     in place.
//   - darwin: the ElectronAsarIntegrity entry in Info.plist is rewritten
//     and the bundle is ad-hoc re-signed.
//   - other: nothing to do.
//
// Resign is also used to undo a mod: calling it after the original archive
// has been restored recomputes the original hash.
package resign

import (
	"context"
	"errors"
	"os/exec"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/config"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/logging"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/platform"
)

var (
	// ErrLengthMismatch is returned when the re-serialized integrity
	// resource would not fit the original bytes exactly.
	ErrLengthMismatch = errors.New("integrity resource length changed")
	// ErrResourceNotFound is returned when the host executable carries no
	// integrity resource.
	ErrResourceNotFound = errors.New("integrity resource not found")
	// ErrIntegrityProtection is returned when the OS protects the host
	// bundle from modification.
	ErrIntegrityProtection = errors.New("system integrity protection is enabled")
	// ErrNoWriteAccess is returned when the host files cannot be written.
	ErrNoWriteAccess = errors.New("no write access to host application")
)

// PrivacySettingsHint is shown to users when the OS blocks modification of
// the host bundle.
const PrivacySettingsHint = "open System Settings > Privacy & Security > App Management and allow modpatch, then retry"

// Resigner updates the host's integrity metadata for the archive at
// archivePath.
type Resigner interface {
	Resign(ctx context.Context, archivePath string) error
}

// Preflighter is implemented by resigners that can detect, before any file
// is touched, that resigning is going to fail.
type Preflighter interface {
	Preflight(ctx context.Context, archivePath string) error
}

// HintError attaches a remediation hint to an error.
type HintError struct {
	Err  error
	Hint string
}

func (e *HintError) Error() string { return e.Err.Error() + " (" + e.Hint + ")" }
func (e *HintError) Unwrap() error { return e.Err }

// CommandRunner executes an external command and returns its combined
// output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// ForPlatform returns the resigner for info.
func ForPlatform(info *platform.Info, host config.Host, logger logging.Logger) Resigner {
	logger = logging.OrNop(logger)
	switch {
	case info != nil && info.IsWindows():
		return &Windows{ExePath: host.Executable, Key: host.IntegrityKey, Logger: logger}
	case info != nil && info.IsMacOS():
		return &Darwin{
			BundlePath:   host.BundlePath,
			ManifestPath: host.ManifestPath,
			Key:          host.IntegrityKey,
			Run:          ExecRunner,
			Logger:       logger,
		}
	default:
		return Noop{}
	}
}

// Noop is used on platforms without integrity metadata.
type Noop struct{}

// Resign does nothing.
func (Noop) Resign(context.Context, string) error { return nil }
