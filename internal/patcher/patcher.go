// Package patcher writes a mod's packed archive over the host's archive and
// refreshes the host's integrity metadata.
//
// Any failure after the target has been touched restores the target from
// the backup, so the host is never left with a half-written or unsigned
// archive.
package patcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/archive"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/download"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/fsutil"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/logging"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/resign"
	"github.com/dustin/go-humanize"
)

// ErrPatchFailed marks failures that happened after the target archive
// was modified. The backup has been restored when possible.
var ErrPatchFailed = errors.New("patch failed")

// Request describes one archive write.
type Request struct {
	TargetPath string
	// Data is the archive as downloaded, possibly compressed.
	Data []byte
	// SourceLink decides decompression by its extension.
	SourceLink string
	BackupPath string
	// ExpectedChecksum, when set, must match the decompressed bytes.
	ExpectedChecksum string
}

// Patcher writes archives and re-signs them.
type Patcher struct {
	resigner resign.Resigner
	logger   logging.Logger
}

// New returns a Patcher using r for integrity updates.
func New(r resign.Resigner, logger logging.Logger) *Patcher {
	if r == nil {
		r = resign.Noop{}
	}
	return &Patcher{resigner: r, logger: logging.OrNop(logger)}
}

// WritePatchedArchive decompresses, verifies, writes and re-signs the
// archive described by req. It returns the sha256 of the written bytes.
func (p *Patcher) WritePatchedArchive(ctx context.Context, req Request) (string, error) {
	data, err := archive.Decompress(req.Data, archive.ExtFromLink(req.SourceLink))
	if err != nil {
		return "", fmt.Errorf("decompress archive: %w", err)
	}

	sum := download.SHA256Bytes(data)
	if req.ExpectedChecksum != "" && !strings.EqualFold(sum, req.ExpectedChecksum) {
		return "", fmt.Errorf("%w: expected %s, got %s", download.ErrChecksumMismatch, req.ExpectedChecksum, sum)
	}

	if pf, ok := p.resigner.(resign.Preflighter); ok {
		if err := pf.Preflight(ctx, req.TargetPath); err != nil {
			return "", err
		}
	}

	if err := fsutil.WriteFileAtomic(req.TargetPath, data, 0644); err != nil {
		return "", p.restore(req, fmt.Errorf("write archive: %w", err))
	}
	p.logger.Info("wrote archive", "path", req.TargetPath, "size", humanize.Bytes(uint64(len(data))))

	if err := p.resigner.Resign(ctx, req.TargetPath); err != nil {
		return "", p.restore(req, fmt.Errorf("resign archive: %w", err))
	}
	return sum, nil
}

// Resign refreshes integrity metadata for the archive already at path.
func (p *Patcher) Resign(ctx context.Context, path string) error {
	return p.resigner.Resign(ctx, path)
}

// restore copies the backup over the target and returns cause wrapped in
// ErrPatchFailed.
func (p *Patcher) restore(req Request, cause error) error {
	if req.BackupPath == "" || !fsutil.Exists(req.BackupPath) {
		p.logger.Error("patch failed and no backup is available", "target", req.TargetPath, "error", cause)
		return fmt.Errorf("%w: %w", ErrPatchFailed, cause)
	}
	if err := fsutil.CopyFile(req.BackupPath, req.TargetPath); err != nil {
		p.logger.Error("restoring backup failed", "backup", req.BackupPath, "error", err)
		return fmt.Errorf("%w: %w (restore failed: %v)", ErrPatchFailed, cause, err)
	}
	p.logger.Warn("patch failed, restored backup", "target", req.TargetPath, "error", cause)
	return fmt.Errorf("%w: %w", ErrPatchFailed, cause)
}
