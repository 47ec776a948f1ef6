package install

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/backup"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/fsutil"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/patcher"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/state"
)

// DefaultDeeplinkScheme is accepted by ParseInstallSource when the
// orchestrator has no scheme configured.
const DefaultDeeplinkScheme = "modpatch"

const (
	actionPatch      = "PATCH"
	patchTypeFromMod = "FROM_MOD"
)

func trimQuotes(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimPrefix(s, `'`)
	s = strings.TrimSuffix(s, `"`)
	return strings.TrimSuffix(s, `'`)
}

func normalizeAction(s string) string {
	return strings.ToUpper(strings.ReplaceAll(trimQuotes(s), "-", "_"))
}

// ArchivePath turns raw into a local packed-archive path. raw may be a
// plain path, percent-encoded, or a file:// URL. Anything that does not
// name a .asar file is rejected with ErrInvalidPath.
func ArchivePath(raw string) (string, error) {
	return archivePath(raw, true)
}

func archivePath(raw string, decode bool) (string, error) {
	raw = trimQuotes(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	var p string
	if strings.HasPrefix(strings.ToLower(raw), "file://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
		}
		p = fileURLPath(u)
	} else {
		p = raw
		if decoded, err := url.PathUnescape(raw); decode && err == nil {
			p = decoded
		}
	}
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	p = filepath.Clean(filepath.FromSlash(p))

	name := p
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if !strings.EqualFold(filepath.Ext(name), ".asar") {
		return "", fmt.Errorf("%w: %s is not a .asar archive", ErrInvalidPath, filepath.Base(p))
	}
	return p, nil
}

func fileURLPath(u *url.URL) string {
	p := u.Path
	if u.Host != "" && u.Host != "localhost" {
		p = "//" + u.Host + p
	}
	// file:///C:/x parses to /C:/x.
	if runtime.GOOS == "windows" && len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return p
}

func fileURL(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = p
	}
	slashed := filepath.ToSlash(abs)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	return (&url.URL{Scheme: "file", Path: slashed}).String()
}

// ParseDeepLink extracts the archive path from a deep link of the form
// <scheme>://patch/from_mod/<path> or <scheme>://<any>/patch/from_mod/<path>.
// Action names are matched case-insensitively with '-' equal to '_'.
func ParseDeepLink(scheme, raw string) (string, error) {
	if scheme == "" {
		scheme = DefaultDeeplinkScheme
	}
	raw = trimQuotes(raw)
	if !strings.HasPrefix(strings.ToLower(raw), strings.ToLower(scheme)+"://") {
		return "", fmt.Errorf("%w: not a %s:// link", ErrInvalidPath, scheme)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	var parts []string
	for _, part := range strings.Split(u.EscapedPath(), "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}

	typeIndex := 0
	if normalizeAction(u.Hostname()) != actionPatch {
		if len(parts) < 2 || normalizeAction(parts[0]) != actionPatch {
			return "", fmt.Errorf("%w: unsupported link action", ErrInvalidPath)
		}
		typeIndex = 1
	}
	if len(parts) <= typeIndex || normalizeAction(parts[typeIndex]) != patchTypeFromMod {
		return "", fmt.Errorf("%w: unsupported patch type", ErrInvalidPath)
	}

	rest := strings.Join(parts[typeIndex+1:], "/")
	if decoded, err := url.PathUnescape(rest); err == nil {
		rest = decoded
	}
	if strings.HasPrefix(strings.ToLower(rest), "file:") {
		rest = strings.TrimLeft(rest[len("file:"):], "/")
	}
	// Unencoded absolute paths lose their leading slash when split.
	if runtime.GOOS != "windows" && rest != "" && !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return archivePath(rest, false)
}

// ParseInstallSource accepts a deep link, a file:// URL or a path.
func (o *Orchestrator) ParseInstallSource(raw string) (string, error) {
	scheme := o.DeeplinkScheme
	if scheme == "" {
		scheme = DefaultDeeplinkScheme
	}
	if strings.HasPrefix(strings.ToLower(trimQuotes(raw)), strings.ToLower(scheme)+"://") {
		return ParseDeepLink(scheme, raw)
	}
	return ArchivePath(raw)
}

// InstallFromFile installs a local packed archive named by raw. The
// previous mod's metadata is kept; only the checksum is refreshed.
func (o *Orchestrator) InstallFromFile(ctx context.Context, raw string, rep Reporter) error {
	s := o.newSession("install-from", rep)

	src, err := o.ParseInstallSource(raw)
	if err != nil {
		return s.fail(ctx, err)
	}
	if !fsutil.Exists(src) {
		return s.fail(ctx, fmt.Errorf("%w: %s", ErrSourceNotFound, filepath.Base(src)))
	}
	s.logger.Info("install from file started", "session", s.id, "source", src, "target", s.paths.TargetArchive)

	if err := s.closeHost(ctx); err != nil {
		return s.fail(ctx, err)
	}

	s.enter(PhaseEnsuringBackup)
	if err := backup.New(s.paths, s.logger).EnsureBackup(); err != nil {
		if errors.Is(err, backup.ErrNotFound) || Classify(o.Platform, err).Kind == KindLinuxPermissionsRequired {
			return s.fail(ctx, err)
		}
		return s.fail(ctx, &Failure{Kind: KindBackupError, Message: err.Error(), Err: err})
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return s.fail(ctx, err)
	}
	s.enter(PhasePatching)
	sum, err := o.Patcher.WritePatchedArchive(ctx, patcher.Request{
		TargetPath: s.paths.TargetArchive,
		Data:       data,
		SourceLink: fileURL(src),
		BackupPath: s.paths.BackupArchive,
	})
	if err != nil {
		return s.fail(ctx, err)
	}
	s.patched = true

	s.enter(PhasePersistingState)
	if err := o.State.Update(map[string]any{
		state.KeyModInstalled: true,
		state.KeyModChecksum:  sum,
	}, nil); err != nil {
		return s.fail(ctx, err)
	}
	s.patched = false

	s.relaunch(ctx)
	s.logger.Info("installed from file", "source", src, "target", s.paths.TargetArchive)
	return s.succeed()
}
