package install

import (
	"context"
	"fmt"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/backup"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/download"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/fsutil"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/hostapp"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/state"
)

// Remove restores the host's original archive and forgets the mod. Without
// a backup the host is reinstalled instead.
func (o *Orchestrator) Remove(ctx context.Context, rep Reporter) error {
	s := o.newSession("remove", rep)
	s.logger.Info("remove started", "session", s.id, "target", s.paths.TargetArchive)

	if err := s.closeHost(ctx); err != nil {
		return s.fail(ctx, err)
	}

	mgr := backup.New(s.paths, s.logger)
	s.enter(PhaseRestoringBackup)
	if !mgr.Exists() {
		s.rep.Message("no backup found, reinstalling host application")
		if err := o.reinstall(ctx); err != nil {
			return s.fail(ctx, fmt.Errorf("reinstall host application: %w", err))
		}
		s.enter(PhaseClearingState)
		if err := mgr.ClearArtifacts(o.State); err != nil {
			return s.fail(ctx, err)
		}
		return s.succeed()
	}

	if err := mgr.Restore(); err != nil {
		return s.fail(ctx, err)
	}

	s.enter(PhaseResigning)
	if err := o.Patcher.Resign(ctx, s.paths.TargetArchive); err != nil {
		// The original archive is already back in place, so the mod is
		// gone whether or not the host accepts it.
		if cerr := mgr.ClearArtifacts(o.State); cerr != nil {
			s.logger.Error("failed to clear install state", "session", s.id, "error", cerr)
		}
		return s.fail(ctx, fmt.Errorf("restore integrity metadata: %w", err))
	}

	s.enter(PhaseClearingState)
	if err := mgr.ClearArtifacts(o.State); err != nil {
		return s.fail(ctx, err)
	}
	s.relaunch(ctx)
	return s.succeed()
}

// ClearCache deletes every cached artifact.
func (o *Orchestrator) ClearCache(rep Reporter) error {
	s := o.newSession("clear-cache", rep)
	if err := o.Cache.Clear(); err != nil {
		return s.fail(context.Background(), err)
	}
	return s.succeed()
}

// ClearCacheOnVersionChange wipes the cache when appVersion differs from
// the version recorded by the previous run, then records appVersion.
// It reports whether the cache was cleared.
func (o *Orchestrator) ClearCacheOnVersionChange(appVersion string) (bool, error) {
	logger := o.logger()
	saved := o.State.GetString(state.KeyAppVersion)
	if saved == appVersion {
		return false, nil
	}

	cleared := false
	if fsutil.Exists(o.Cache.Dir()) {
		logger.Info("engine version changed, clearing cache", "from", saved, "to", appVersion)
		if err := o.Cache.Clear(); err != nil {
			logger.Warn("failed to clear cache on version change", "error", err)
		} else {
			cleared = true
		}
	}
	if err := o.State.Set(state.KeyAppVersion, appVersion); err != nil {
		return cleared, fmt.Errorf("record engine version: %w", err)
	}
	return cleared, nil
}

// Status is a snapshot of what is installed.
type Status struct {
	Mod   state.InstallState
	Paths hostapp.Paths
	// ArchiveChecksum is the sha256 of the target archive, empty when it
	// is missing.
	ArchiveChecksum string
	BackupPresent   bool
	// UnpackedChecksum is read from the unpacked directory's marker.
	UnpackedChecksum string
	HostVersion      string
}

// Status reports the persisted state alongside what is on disk.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	paths := o.resolvePaths()
	st := &Status{
		Mod:              o.State.Mod(),
		Paths:            paths,
		BackupPresent:    fsutil.Exists(paths.BackupArchive),
		UnpackedChecksum: readMarker(paths.UnpackedDir),
	}
	if fsutil.Exists(paths.TargetArchive) {
		sum, err := download.SHA256File(paths.TargetArchive)
		if err != nil {
			return nil, fmt.Errorf("hash target archive: %w", err)
		}
		st.ArchiveChecksum = sum
	}
	if o.Process != nil {
		st.HostVersion = o.Process.InstalledVersion(ctx)
	}
	return st, nil
}
