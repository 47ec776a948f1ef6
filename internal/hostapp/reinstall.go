package hostapp

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path"
	"path/filepath"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/download"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/logging"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/platform"
)

// ErrNoInstaller is returned when no installer URL is configured.
var ErrNoInstaller = errors.New("no host installer configured")

// Reinstaller restores a pristine host installation. It is the fallback
// when there is no original archive left to back up or restore.
type Reinstaller interface {
	Reinstall(ctx context.Context) error
}

// InstallerDownload fetches the official host installer and starts it.
type InstallerDownload struct {
	URL        string
	TempDir    string
	Downloader *download.Downloader
	Info       *platform.Info
	Logger     logging.Logger
}

// Reinstall implements Reinstaller.
func (r *InstallerDownload) Reinstall(ctx context.Context) error {
	logger := logging.OrNop(r.Logger)
	if r.URL == "" {
		return ErrNoInstaller
	}

	name := path.Base(r.URL)
	if name == "." || name == "/" {
		name = "host-installer"
	}
	res, err := r.Downloader.Download(ctx, download.Job{
		URL:      r.URL,
		TempPath: filepath.Join(r.TempDir, name),
	})
	if err != nil {
		return fmt.Errorf("download host installer: %w", err)
	}

	var cmd *exec.Cmd
	switch {
	case r.Info != nil && r.Info.IsWindows():
		cmd = exec.Command(res.Path)
	case r.Info != nil && r.Info.IsMacOS():
		cmd = exec.Command("open", res.Path)
	default:
		cmd = exec.Command("xdg-open", res.Path)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start host installer: %w", err)
	}
	logger.Info("started host installer", "path", res.Path)
	return cmd.Process.Release()
}
