package install

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/archive"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/backup"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/download"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/elevate"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/patcher"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/platform"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/replace"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/resign"
)

// Kind is the failure category reported to callers.
type Kind string

const (
	KindInvalidPath              Kind = "invalid_path"
	KindFileNotFound             Kind = "file_not_found"
	KindPatchError               Kind = "patch_error"
	KindChecksumMismatch         Kind = "checksum_mismatch"
	KindNetworkError             Kind = "network_error"
	KindLinuxPermissionsRequired Kind = "linux_permissions_required"
	KindBackupError              Kind = "backup_error"
	KindUnexpected               Kind = "unexpected_error"
	KindVersionOutdated          Kind = "version_outdated"
	KindVersionTooNew            Kind = "version_too_new"
)

// Keys used in Failure.Extra.
const (
	ExtraURL                = "url"
	ExtraRequiredVersion    = "requiredVersion"
	ExtraRecommendedVersion = "recommendedVersion"
	ExtraHint               = "hint"
	ExtraStage              = "stage"
	ExtraPhase              = "phase"
)

// Sentinel errors for inputs rejected before anything is touched.
var (
	ErrInvalidPath    = errors.New("invalid archive path")
	ErrSourceNotFound = errors.New("archive not found")
)

// Failure is a classified operation failure.
type Failure struct {
	Kind    Kind
	Message string
	Extra   map[string]string
	Err     error
}

func (f *Failure) Error() string {
	switch {
	case f.Message != "":
		return f.Message
	case f.Err != nil:
		return f.Err.Error()
	default:
		return string(f.Kind)
	}
}

func (f *Failure) Unwrap() error { return f.Err }

func (f *Failure) with(key, value string) *Failure {
	if value == "" {
		return f
	}
	if f.Extra == nil {
		f.Extra = make(map[string]string)
	}
	f.Extra[key] = value
	return f
}

// Classify maps err to a Failure. Errors that are already a *Failure are
// returned as is; anything unrecognized becomes unexpected_error.
func Classify(info *platform.Info, err error) *Failure {
	if err == nil {
		return nil
	}

	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	if elevate.IsLinuxAccessError(info, err) {
		return &Failure{
			Kind:    KindLinuxPermissionsRequired,
			Message: "write access to the host application files is required; run 'modpatch grant-access'",
			Err:     err,
		}
	}

	var (
		hintErr    *resign.HintError
		replaceErr *replace.Failure
		netErr     *download.NetworkError
	)
	switch {
	case errors.Is(err, ErrInvalidPath):
		return &Failure{Kind: KindInvalidPath, Message: err.Error(), Err: err}
	case errors.Is(err, ErrSourceNotFound), errors.Is(err, backup.ErrNotFound):
		return &Failure{Kind: KindFileNotFound, Message: err.Error(), Err: err}
	case errors.Is(err, download.ErrChecksumMismatch), errors.Is(err, download.ErrBadSignature):
		return &Failure{Kind: KindChecksumMismatch, Message: "integrity check failed: " + err.Error(), Err: err}
	case errors.As(err, &hintErr):
		return (&Failure{Kind: KindPatchError, Message: err.Error(), Err: err}).with(ExtraHint, hintErr.Hint)
	case errors.As(err, &replaceErr):
		return (&Failure{Kind: KindPatchError, Message: err.Error(), Err: err}).with(ExtraStage, string(replaceErr.Stage))
	case errors.Is(err, patcher.ErrPatchFailed), errors.Is(err, archive.ErrInvalidArchive):
		return &Failure{Kind: KindPatchError, Message: err.Error(), Err: err}
	case errors.As(err, &netErr):
		return &Failure{Kind: KindNetworkError, Message: err.Error(), Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Failure{Kind: KindUnexpected, Message: fmt.Sprintf("operation cancelled: %v", err), Err: err}
	default:
		return &Failure{Kind: KindUnexpected, Message: err.Error(), Err: err}
	}
}
