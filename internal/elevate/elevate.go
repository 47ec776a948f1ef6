// Package elevate grants the current user write access to host files on
// Linux through pkexec.
package elevate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/logging"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/platform"
)

// ErrNoCandidates is returned by Run when it is given nothing to try.
var ErrNoCandidates = errors.New("no elevation commands to try")

// IsLinuxAccessError reports whether err is a permission failure that a
// privileged helper could fix. Only Linux hosts qualify.
func IsLinuxAccessError(info *platform.Info, err error) bool {
	if info == nil || !info.IsLinux() || err == nil {
		return false
	}
	return errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) || errors.Is(err, fs.ErrPermission)
}

// Exec runs name with args. It matches resign.CommandRunner.
type Exec func(ctx context.Context, name string, args ...string) ([]byte, error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Runner tries pkexec command candidates in order until one succeeds.
type Runner struct {
	Helper string
	Exec   Exec
	Logger logging.Logger
}

// NewRunner returns a Runner using pkexec.
func NewRunner(logger logging.Logger) *Runner {
	return &Runner{Helper: "pkexec", Exec: execCommand, Logger: logging.OrNop(logger)}
}

// Run executes each candidate argument list under the helper and stops at
// the first success. The last failure is returned when all of them fail.
func (r *Runner) Run(ctx context.Context, candidates [][]string) error {
	if len(candidates) == 0 {
		return ErrNoCandidates
	}
	logger := logging.OrNop(r.Logger)

	var lastErr error
	for _, args := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := r.Exec(ctx, r.Helper, args...)
		if err == nil {
			logger.Info("elevated command succeeded", "args", args)
			return nil
		}
		logger.Debug("elevated command failed", "args", args, "output", string(out), "error", err)
		lastErr = fmt.Errorf("%s %v: %w", r.Helper, args, err)
	}
	return lastErr
}

// GrantCandidates returns the commands that hand ownership of paths to
// uid, falling back to making them world-writable.
func GrantCandidates(uid, gid int, paths ...string) [][]string {
	owner := strconv.Itoa(uid) + ":" + strconv.Itoa(gid)
	chown := append([]string{"chown", "-R", owner}, paths...)
	chmod := append([]string{"chmod", "-R", "a+rwX"}, paths...)
	return [][]string{chown, chmod}
}
