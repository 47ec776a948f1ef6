// Package replace swaps a directory tree into place as atomically as the
// platform allows.
//
// Replacement walks an ordered list of named strategies. Each strategy has
// its own bounded retry loop with linear backoff. Only recoverable OS errors
// (cross-device, busy, not empty, permission, exists) are retried; anything
// else fails the strategy at once. A strategy that exhausts its attempts on
// recoverable errors hands over to the next one. When every strategy fails
// the error names the stage that failed last, so callers can offer a
// privileged retry.
package replace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/fsutil"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/logging"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/platform"
)

// Stage names a replacement strategy.
type Stage string

const (
	StageMove Stage = "move"
	StageCopy Stage = "copy"
)

// Attempt budgets. Platforms with mandatory file locking hold transient
// locks (antivirus, indexers) that clear after a short wait.
const (
	LockingAttempts = 5
	DefaultAttempts = 2
)

// Strategy is one rung of the replacement ladder.
type Strategy struct {
	Stage    Stage
	Attempts int
	// Delay is multiplied by the attempt number between attempts.
	Delay time.Duration
	Run   func(src, dst string) error
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Failure is returned when every strategy failed.
type Failure struct {
	Stage Stage
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("replace directory failed at %s stage: %v", f.Stage, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Replacer runs the strategy ladder.
type Replacer struct {
	Strategies  []Strategy
	Sleep       SleepFunc
	Recoverable func(error) bool
	Logger      logging.Logger
}

// New returns the default move-then-copy ladder for info.
func New(info *platform.Info, logger logging.Logger) *Replacer {
	attempts := DefaultAttempts
	if info != nil && info.MandatoryLocking() {
		attempts = LockingAttempts
	}
	return &Replacer{
		Strategies: []Strategy{
			{Stage: StageMove, Attempts: attempts, Delay: 120 * time.Millisecond, Run: moveDir},
			{Stage: StageCopy, Attempts: attempts, Delay: 150 * time.Millisecond, Run: copyDir},
		},
		Sleep:       sleepContext,
		Recoverable: IsRecoverable,
		Logger:      logging.OrNop(logger),
	}
}

// Replace makes targetDir hold the tree at sourceDir. On success
// tempExtractDir, the directory sourceDir was extracted under, is removed.
func (r *Replacer) Replace(ctx context.Context, sourceDir, targetDir, tempExtractDir string) error {
	logger := logging.OrNop(r.Logger)
	if len(r.Strategies) == 0 {
		return errors.New("replace: no strategies configured")
	}

	var last *Failure
	for _, s := range r.Strategies {
		err := r.runStrategy(ctx, s, sourceDir, targetDir)
		if err == nil {
			logger.Info("replaced directory", "target", targetDir, "stage", s.Stage)
			r.cleanup(logger, tempExtractDir, targetDir)
			return nil
		}
		last = &Failure{Stage: s.Stage, Err: err}
		if ctx.Err() != nil || !r.Recoverable(err) {
			return last
		}
		logger.Warn("replace strategy exhausted, falling back", "stage", s.Stage, "error", err)
	}
	return last
}

func (r *Replacer) runStrategy(ctx context.Context, s Strategy, src, dst string) error {
	attempts := s.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = s.Run(src, dst)
		if err == nil {
			return nil
		}
		if !r.Recoverable(err) || attempt == attempts {
			return err
		}
		if serr := r.Sleep(ctx, s.Delay*time.Duration(attempt)); serr != nil {
			return serr
		}
	}
	return err
}

func (r *Replacer) cleanup(logger logging.Logger, tempExtractDir, targetDir string) {
	if tempExtractDir == "" || filepath.Clean(tempExtractDir) == filepath.Clean(targetDir) {
		return
	}
	if err := os.RemoveAll(tempExtractDir); err != nil {
		logger.Warn("failed to remove extraction directory", "path", tempExtractDir, "error", err)
	}
}

func moveDir(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.Rename(src, dst)
}

func copyDir(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	if err := fsutil.CopyDir(src, dst); err != nil {
		os.RemoveAll(dst)
		return err
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRecoverable reports whether err is a transient or cross-device error
// worth retrying or degrading to a copy.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, os.ErrExist) {
		return true
	}
	for _, errno := range recoverableErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
