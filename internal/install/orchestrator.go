package install

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/backup"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/cache"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/compat"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/config"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/download"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/fsutil"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/hostapp"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/logging"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/patcher"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/platform"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/state"
	"github.com/google/uuid"
)

// DefaultRelaunchDelay holds back Success after the host is relaunched so
// the host has time to open its window.
const DefaultRelaunchDelay = 1500 * time.Millisecond

// Downloader fetches mod artifacts.
type Downloader interface {
	Download(ctx context.Context, job download.Job) (*download.Result, error)
	Fetch(ctx context.Context, url string, limit int64) ([]byte, error)
}

// SignatureVerifier checks detached signatures.
type SignatureVerifier interface {
	VerifyFile(path string, signature []byte) error
}

// ArchiveWriter writes packed archives and refreshes integrity metadata.
type ArchiveWriter interface {
	WritePatchedArchive(ctx context.Context, req patcher.Request) (string, error)
	Resign(ctx context.Context, path string) error
}

// DirReplacer swaps directory trees.
type DirReplacer interface {
	Replace(ctx context.Context, sourceDir, targetDir, tempExtractDir string) error
}

// Orchestrator runs install, removal and cache commands. One command runs
// at a time; each run gets its own session.
type Orchestrator struct {
	Host           config.Host
	TempDir        string
	DeeplinkScheme string
	Platform       *platform.Info

	Downloader  Downloader
	Verifier    SignatureVerifier
	Cache       *cache.Store
	Patcher     ArchiveWriter
	Replacer    DirReplacer
	Process     hostapp.Controller
	Reinstaller hostapp.Reinstaller
	Compat      compat.Checker
	State       *state.Store
	Logger      logging.Logger

	RelaunchDelay time.Duration
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

type progressRange struct{ base, scale float64 }

func (r progressRange) end() float64 { return r.base + r.scale }

var (
	rangeArchiveOnly         = progressRange{0, 1}
	rangeArchiveWithUnpacked = progressRange{0, 0.6}
	rangeUnpacked            = progressRange{0.6, 0.4}
)

// session holds the mutable state of one command.
type session struct {
	o      *Orchestrator
	id     string
	rep    Reporter
	logger logging.Logger

	paths       hostapp.Paths
	phase       Phase
	lastPercent int
	wasClosed   bool
	// patched is set once the target archive holds new bytes; failures
	// after that point roll back to the backup.
	patched bool
}

func (o *Orchestrator) newSession(op string, rep Reporter) *session {
	if rep == nil {
		rep = NopReporter{}
	}
	id := uuid.NewString()
	return &session{
		o:           o,
		id:          id,
		rep:         rep,
		logger:      logging.Named(o.logger(), op),
		lastPercent: -1,
		paths:       o.resolvePaths(),
	}
}

func (o *Orchestrator) logger() logging.Logger { return logging.OrNop(o.Logger) }

func (o *Orchestrator) resolvePaths() hostapp.Paths {
	var override string
	if o.Platform != nil && o.Platform.IsLinux() && o.State != nil {
		override = o.State.GetString(state.KeyModSavePath)
	}
	return hostapp.ResolvePaths(o.Host, override)
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if o.Sleep != nil {
		return o.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) reinstall(ctx context.Context) error {
	if o.Reinstaller == nil {
		return hostapp.ErrNoInstaller
	}
	return o.Reinstaller.Reinstall(ctx)
}

func (s *session) enter(p Phase) {
	s.logger.Debug("phase", "session", s.id, "from", s.phase, "to", p)
	s.phase = p
}

// progress reports fraction in [0, 1] as a percentage. Reports that would
// move backwards are dropped.
func (s *session) progress(fraction float64) {
	pct := int(math.Round(fraction * 100))
	pct = max(0, min(100, pct))
	if pct <= s.lastPercent {
		return
	}
	s.lastPercent = pct
	s.rep.Progress(pct)
}

func (s *session) fail(ctx context.Context, err error) error {
	f := Classify(s.o.Platform, err)
	f.with(ExtraPhase, s.phase.String())
	s.logger.Error("operation failed", "session", s.id, "phase", s.phase, "kind", f.Kind, "error", err)

	if s.patched {
		s.rollback(context.WithoutCancel(ctx))
	}
	s.phase = PhaseFailed
	s.rep.Failure(f)
	return f
}

func (s *session) succeed() error {
	s.phase = PhaseSuccess
	s.progress(1)
	s.logger.Info("operation succeeded", "session", s.id)
	s.rep.Success()
	return nil
}

// rollback restores the backup over the target archive and refreshes its
// integrity metadata.
func (s *session) rollback(ctx context.Context) {
	s.enter(PhaseRestoringBackup)
	if !fsutil.Exists(s.paths.BackupArchive) {
		s.logger.Error("cannot roll back, backup is missing", "backup", s.paths.BackupArchive)
		return
	}
	if err := fsutil.CopyFile(s.paths.BackupArchive, s.paths.TargetArchive); err != nil {
		s.logger.Error("rollback failed", "error", err)
		return
	}
	s.enter(PhaseResigning)
	if err := s.o.Patcher.Resign(ctx, s.paths.TargetArchive); err != nil {
		s.logger.Error("rollback resign failed", "error", err)
		return
	}
	s.patched = false
	s.logger.Warn("rolled back to backup", "target", s.paths.TargetArchive)
}

func (s *session) closeHost(ctx context.Context) error {
	s.enter(PhaseClosingHostApp)
	if running, err := s.o.Process.Running(ctx); err != nil {
		s.logger.Warn("could not check host process", "error", err)
	} else if running {
		s.rep.Message("closing host application")
	}
	closed, err := s.o.Process.Close(ctx)
	if err != nil {
		return fmt.Errorf("close host application: %w", err)
	}
	s.wasClosed = closed
	return nil
}

// relaunch starts the host again when this session closed it and nothing
// else has started it since.
func (s *session) relaunch(ctx context.Context) {
	if !s.wasClosed {
		return
	}
	s.enter(PhaseRelaunching)
	if running, err := s.o.Process.Running(ctx); err == nil && running {
		return
	}
	if err := s.o.Process.Launch(ctx); err != nil {
		s.logger.Warn("failed to relaunch host application", "error", err)
		return
	}
	delay := s.o.RelaunchDelay
	if delay == 0 {
		delay = DefaultRelaunchDelay
	}
	if err := s.o.sleep(ctx, delay); err != nil {
		s.logger.Debug("relaunch wait interrupted", "error", err)
	}
}

// Install installs desc and reports through rep. The returned error is
// the reported *Failure, or nil on success.
func (o *Orchestrator) Install(ctx context.Context, desc ModDescriptor, flags Flags, rep Reporter) error {
	s := o.newSession("install", rep)
	s.logger.Info("install started", "session", s.id, "mod", desc.Name, "version", desc.Version)

	if err := desc.Validate(); err != nil {
		return s.fail(ctx, err)
	}

	if flags.ShouldReinstall && o.Platform != nil && o.Platform.IsWindows() && !o.State.GetBool(state.KeyHostReinstalled) {
		return s.redirectReinstall(ctx)
	}

	if !flags.Force && !flags.Spoof {
		if err := s.checkCompatibility(ctx, desc); err != nil {
			return s.fail(ctx, err)
		}
	}

	if err := s.closeHost(ctx); err != nil {
		return s.fail(ctx, err)
	}

	s.enter(PhaseEnsuringBackup)
	if err := backup.New(s.paths, s.logger).EnsureBackup(); err != nil {
		if errors.Is(err, backup.ErrNotFound) {
			ferr := s.fail(ctx, err)
			s.rep.Message("original archive is missing, reinstalling host application")
			if rerr := o.reinstall(ctx); rerr != nil {
				s.logger.Error("host reinstall failed", "error", rerr)
			}
			return ferr
		}
		if Classify(o.Platform, err).Kind == KindLinuxPermissionsRequired {
			return s.fail(ctx, err)
		}
		return s.fail(ctx, &Failure{Kind: KindBackupError, Message: err.Error(), Err: err})
	}

	archiveRange, hasUnpacked := rangeArchiveOnly, desc.UnpackLink != ""
	if hasUnpacked {
		archiveRange = rangeArchiveWithUnpacked
	}
	if err := s.installArchive(ctx, desc, archiveRange); err != nil {
		return s.fail(ctx, err)
	}
	if hasUnpacked {
		if err := s.installUnpacked(ctx, desc, rangeUnpacked); err != nil {
			return s.fail(ctx, err)
		}
	}

	s.enter(PhaseVerifyingChecksum)
	actual, err := download.SHA256File(s.paths.TargetArchive)
	if err != nil {
		return s.fail(ctx, fmt.Errorf("hash installed archive: %w", err))
	}
	if desc.Checksum != "" && !strings.EqualFold(actual, desc.Checksum) {
		return s.fail(ctx, fmt.Errorf("%w: installed archive is %s, expected %s", download.ErrChecksumMismatch, actual, desc.Checksum))
	}

	s.enter(PhasePersistingState)
	if err := o.State.SaveMod(state.InstallState{
		Installed:        true,
		Version:          desc.Version,
		HostAppVersion:   desc.HostAppVersion,
		Name:             desc.Name,
		Checksum:         actual,
		UnpackedChecksum: desc.UnpackedChecksum,
	}); err != nil {
		return s.fail(ctx, err)
	}
	if err := fsutil.WriteFileAtomic(s.paths.VersionMarker, []byte(desc.HostAppVersion), 0644); err != nil {
		s.logger.Warn("failed to write version marker", "path", s.paths.VersionMarker, "error", err)
	}
	s.patched = false

	s.relaunch(ctx)
	return s.succeed()
}

func (s *session) redirectReinstall(ctx context.Context) error {
	if err := s.o.State.Set(state.KeyHostReinstalled, true); err != nil {
		return s.fail(ctx, err)
	}
	s.rep.Message("reinstalling host application")
	if err := s.o.reinstall(ctx); err != nil {
		return s.fail(ctx, err)
	}
	return s.succeed()
}

func (s *session) checkCompatibility(ctx context.Context, desc ModDescriptor) error {
	s.enter(PhaseCheckingCompatibility)
	hostVersion := s.o.Process.InstalledVersion(ctx)
	res, err := s.o.Compat.Check(ctx, desc.Version, hostVersion)
	if err != nil {
		return &Failure{Kind: KindNetworkError, Message: "compatibility check failed: " + err.Error(), Err: err}
	}
	if res.Compatible {
		return nil
	}

	kind := KindUnexpected
	switch res.Code {
	case compat.CodeHostOutdated:
		kind = KindVersionOutdated
	case compat.CodeHostTooNew:
		kind = KindVersionTooNew
	}
	msg := res.Message
	if msg == "" {
		msg = fmt.Sprintf("mod %s is not compatible with host version %s", desc.Version, hostVersion)
	}
	f := &Failure{Kind: kind, Message: msg}
	return f.with(ExtraURL, res.URL).
		with(ExtraRequiredVersion, res.RequiredVersion).
		with(ExtraRecommendedVersion, res.RecommendedVersion)
}

const archiveExt = ".asar"

func (s *session) installArchive(ctx context.Context, desc ModDescriptor, rng progressRange) error {
	target := s.paths.TargetArchive
	if desc.Checksum != "" && fsutil.Exists(target) {
		if sum, err := download.SHA256File(target); err != nil {
			s.logger.Warn("failed to hash installed archive", "error", err)
		} else if strings.EqualFold(sum, desc.Checksum) {
			s.logger.Info("archive already installed, skipping download", "checksum", sum)
			s.rep.Message("mod already installed")
			s.progress(rng.end())
			return nil
		}
	}

	s.enter(PhaseResolvingArchive)
	if entry, ok := s.o.Cache.Lookup(desc.Checksum, archiveExt, cache.KindArchive); ok {
		s.rep.Message("using cached archive")
		err := s.patchFrom(ctx, desc, entry.Path, func() ([]byte, error) { return os.ReadFile(entry.Path) })
		if err == nil {
			s.progress(rng.end())
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		s.logger.Warn("cached archive could not be applied, downloading", "error", err)
		s.enter(PhaseResolvingArchive)
	}

	data, err := s.downloadArchive(ctx, desc, rng)
	if err != nil {
		return err
	}
	if err := s.patchFrom(ctx, desc, desc.Link, func() ([]byte, error) { return data, nil }); err != nil {
		return err
	}
	if desc.Checksum != "" {
		if _, err := s.o.Cache.Put(desc.Checksum, archiveExt, target, cache.KindArchive); err != nil {
			s.logger.Warn("failed to cache archive", "error", err)
		}
	}
	s.progress(rng.end())
	return nil
}

func (s *session) patchFrom(ctx context.Context, desc ModDescriptor, link string, load func() ([]byte, error)) error {
	data, err := load()
	if err != nil {
		return err
	}
	s.enter(PhasePatching)
	sum, err := s.o.Patcher.WritePatchedArchive(ctx, patcher.Request{
		TargetPath:       s.paths.TargetArchive,
		Data:             data,
		SourceLink:       link,
		BackupPath:       s.paths.BackupArchive,
		ExpectedChecksum: desc.Checksum,
	})
	if err != nil {
		return err
	}
	s.patched = true
	s.logger.Info("patched archive", "target", s.paths.TargetArchive, "checksum", sum)
	return nil
}

func (s *session) downloadArchive(ctx context.Context, desc ModDescriptor, rng progressRange) ([]byte, error) {
	tmp := filepath.Join(s.o.TempDir, "archive-"+s.id+".download")
	defer removeQuietly(s.logger, tmp)

	// The checksum covers the decompressed archive; compressed payloads are
	// verified by the patcher after decoding.
	var expected string
	if isUncompressed(desc.Link) {
		expected = desc.Checksum
	}

	s.rep.Message("downloading " + displayName(desc))
	res, err := s.o.Downloader.Download(ctx, download.Job{
		URL:              desc.Link,
		TempPath:         tmp,
		ExpectedChecksum: expected,
		ProgressBase:     rng.base,
		ProgressScale:    rng.scale,
		Progress:         s.progress,
	})
	if err != nil {
		return nil, err
	}
	if err := s.verifySignature(ctx, desc.SignatureLink, res.Path); err != nil {
		return nil, err
	}
	return os.ReadFile(res.Path)
}

// signatureLimit bounds detached signature downloads.
const signatureLimit = 64 << 10

func (s *session) verifySignature(ctx context.Context, link, path string) error {
	if link == "" {
		return nil
	}
	if s.o.Verifier == nil {
		s.logger.Warn("descriptor is signed but no keyring is configured, skipping verification")
		return nil
	}
	sig, err := s.o.Downloader.Fetch(ctx, link, signatureLimit)
	if err != nil {
		return err
	}
	if err := s.o.Verifier.VerifyFile(path, sig); err != nil {
		return err
	}
	s.logger.Info("signature verified", "path", filepath.Base(path))
	return nil
}

func displayName(desc ModDescriptor) string {
	if desc.Name == "" {
		return "mod"
	}
	if desc.Version == "" {
		return desc.Name
	}
	return desc.Name + " " + desc.Version
}

func removeQuietly(logger logging.Logger, path string) {
	if err := fsutil.RemoveIfExists(path); err != nil {
		logger.Warn("failed to remove temporary file", "path", path, "error", err)
	}
}
