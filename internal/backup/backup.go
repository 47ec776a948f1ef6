// Package backup keeps the last known good copy of the host's packed
// archive.
//
// A backup is taken once, before the first patch, and is never overwritten
// afterwards: it always holds the host's own archive, not a previous mod.
package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/fsutil"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/hostapp"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/logging"
)

// ErrNotFound is returned when there is neither an installed nor a default
// archive to back up, or no backup to restore. Callers repair the host
// installation instead.
var ErrNotFound = errors.New("archive not found")

// StateClearer forgets the installed mod.
type StateClearer interface {
	ClearMod() error
}

// Manager creates and restores backups for one set of paths.
type Manager struct {
	paths  hostapp.Paths
	logger logging.Logger
}

// New returns a Manager for paths.
func New(paths hostapp.Paths, logger logging.Logger) *Manager {
	return &Manager{paths: paths, logger: logging.OrNop(logger)}
}

// Exists reports whether a backup is present.
func (m *Manager) Exists() bool {
	return fsutil.Exists(m.paths.BackupArchive)
}

// EnsureBackup copies the current archive to the backup path unless a
// backup already exists. The installed target is preferred; the host's
// default archive is used when nothing is installed at the target yet.
func (m *Manager) EnsureBackup() error {
	if m.Exists() {
		m.logger.Debug("backup already exists", "backup", m.paths.BackupArchive)
		return nil
	}

	var source string
	for _, candidate := range []string{m.paths.TargetArchive, m.paths.DefaultArchive} {
		if candidate != "" && fsutil.Exists(candidate) {
			source = candidate
			break
		}
	}
	if source == "" {
		return fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(m.paths.TargetArchive))
	}

	if err := fsutil.CopyFile(source, m.paths.BackupArchive); err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	m.logger.Info("created backup", "source", filepath.Base(source), "backup", filepath.Base(m.paths.BackupArchive))
	return nil
}

// Restore moves the backup back over the target archive. The backup is
// consumed.
func (m *Manager) Restore() error {
	if !m.Exists() {
		return fmt.Errorf("%w: no backup at %s", ErrNotFound, m.paths.BackupArchive)
	}
	if err := os.Rename(m.paths.BackupArchive, m.paths.TargetArchive); err != nil {
		// Renaming over an open file fails on some platforms; copying
		// still restores the bytes.
		if cerr := fsutil.CopyFile(m.paths.BackupArchive, m.paths.TargetArchive); cerr != nil {
			return fmt.Errorf("restore backup: %w", err)
		}
		if rerr := os.Remove(m.paths.BackupArchive); rerr != nil {
			m.logger.Warn("restored backup but could not remove it", "backup", m.paths.BackupArchive, "error", rerr)
		}
	}
	m.logger.Info("restored backup", "target", m.paths.TargetArchive)
	return nil
}

// ClearArtifacts forgets the mod and removes the version marker and the
// unpacked resources directory. Removal failures are logged, not returned.
func (m *Manager) ClearArtifacts(st StateClearer) error {
	if st != nil {
		if err := st.ClearMod(); err != nil {
			return fmt.Errorf("clear install state: %w", err)
		}
	}
	if err := fsutil.RemoveIfExists(m.paths.VersionMarker); err != nil {
		m.logger.Warn("failed to delete version marker", "path", m.paths.VersionMarker, "error", err)
	}
	if m.paths.UnpackedDir != "" {
		if err := os.RemoveAll(m.paths.UnpackedDir); err != nil {
			m.logger.Warn("failed to delete unpacked directory", "path", m.paths.UnpackedDir, "error", err)
		}
	}
	return nil
}
