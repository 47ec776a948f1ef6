// Package hostapp controls the host application the mod is installed into:
// finding and stopping its processes, starting it again, and locating its
// files.
package hostapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/asar"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/config"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/logging"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/platform"
	"github.com/shirou/gopsutil/v4/process"
	"howett.net/plist"
)

// Controller is the host application as seen by the installer.
type Controller interface {
	// Running reports whether any host process is alive.
	Running(ctx context.Context) (bool, error)
	// Close terminates the host and reports whether it was running.
	Close(ctx context.Context) (bool, error)
	// Launch starts the host detached from this process.
	Launch(ctx context.Context) error
	// InstalledVersion returns the installed host version, or "" when it
	// cannot be determined.
	InstalledVersion(ctx context.Context) string
}

// Timing for Close. Exported for tests.
var (
	TerminateTimeout = 5 * time.Second
	PollInterval     = 100 * time.Millisecond
	// SettleDelay lets the OS release file handles after the host exits.
	SettleDelay = 500 * time.Millisecond
)

// Process controls the host through the process table.
type Process struct {
	host   config.Host
	info   *platform.Info
	logger logging.Logger
}

// NewProcess returns a Controller for host on info.
func NewProcess(host config.Host, info *platform.Info, logger logging.Logger) *Process {
	return &Process{host: host, info: info, logger: logging.OrNop(logger)}
}

var _ Controller = (*Process)(nil)

func (p *Process) matches(ctx context.Context, proc *process.Process) bool {
	name, err := proc.NameWithContext(ctx)
	if err != nil {
		return false
	}
	want := p.host.ProcessName
	if strings.EqualFold(name, want) || strings.EqualFold(strings.TrimSuffix(name, ".exe"), strings.TrimSuffix(want, ".exe")) {
		return true
	}
	if p.host.Executable == "" {
		return false
	}
	exe, err := proc.ExeWithContext(ctx)
	return err == nil && filepath.Clean(exe) == filepath.Clean(p.host.Executable)
}

func (p *Process) find(ctx context.Context) ([]*process.Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	self := int32(os.Getpid())
	var found []*process.Process
	for _, proc := range procs {
		if proc.Pid != self && p.matches(ctx, proc) {
			found = append(found, proc)
		}
	}
	return found, nil
}

// Running implements Controller.
func (p *Process) Running(ctx context.Context) (bool, error) {
	procs, err := p.find(ctx)
	if err != nil {
		return false, err
	}
	return len(procs) > 0, nil
}

// Close implements Controller. Processes get TerminateTimeout to exit after
// a polite terminate before they are killed.
func (p *Process) Close(ctx context.Context) (bool, error) {
	procs, err := p.find(ctx)
	if err != nil {
		return false, err
	}
	if len(procs) == 0 {
		return false, nil
	}

	p.logger.Info("closing host application", "processes", len(procs))
	for _, proc := range procs {
		if err := proc.TerminateWithContext(ctx); err != nil {
			p.logger.Debug("terminate failed", "pid", proc.Pid, "error", err)
		}
	}

	deadline := time.Now().Add(TerminateTimeout)
	for {
		alive := aliveOnly(ctx, procs)
		if len(alive) == 0 {
			break
		}
		if time.Now().After(deadline) {
			for _, proc := range alive {
				if err := proc.KillWithContext(ctx); err != nil {
					return true, fmt.Errorf("kill pid %d: %w", proc.Pid, err)
				}
			}
			break
		}
		if err := sleep(ctx, PollInterval); err != nil {
			return true, err
		}
	}
	return true, sleep(ctx, SettleDelay)
}

func aliveOnly(ctx context.Context, procs []*process.Process) []*process.Process {
	var alive []*process.Process
	for _, proc := range procs {
		if ok, err := proc.IsRunningWithContext(ctx); err == nil && ok {
			alive = append(alive, proc)
		}
	}
	return alive
}

// Launch implements Controller.
func (p *Process) Launch(ctx context.Context) error {
	var cmd *exec.Cmd
	switch {
	case p.info != nil && p.info.IsMacOS():
		cmd = exec.Command("open", "-a", p.host.BundlePath)
	default:
		if p.host.Executable == "" {
			return errors.New("host executable is not configured")
		}
		cmd = exec.Command(p.host.Executable)
		cmd.Dir = filepath.Dir(p.host.Executable)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch host: %w", err)
	}
	p.logger.Info("launched host application", "pid", cmd.Process.Pid)
	return cmd.Process.Release()
}

// InstalledVersion implements Controller. On macOS the bundle's
// CFBundleShortVersionString is authoritative. Elsewhere the version is
// read from package.json inside the host's own archive, preferring the
// backup since the live archive may already be modded.
func (p *Process) InstalledVersion(ctx context.Context) string {
	if p.host.ManifestPath != "" {
		if v, err := manifestVersion(p.host.ManifestPath); err == nil {
			return v
		}
	}
	def := filepath.Join(p.host.ResourceDir, p.host.ArchiveName)
	for _, archive := range []string{BackupPathFor(def), def} {
		if v, err := ArchiveVersion(archive); err == nil {
			return v
		}
	}
	return ""
}

// ArchiveVersion returns the version field of package.json inside the
// packed archive at path.
func ArchiveVersion(path string) (string, error) {
	data, err := asar.ReadFile(path, "package.json")
	if err != nil {
		return "", err
	}
	var pkg struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return "", fmt.Errorf("parse package.json: %w", err)
	}
	if pkg.Version == "" {
		return "", errors.New("package.json has no version")
	}
	return pkg.Version, nil
}

func manifestVersion(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var m struct {
		Version string `plist:"CFBundleShortVersionString"`
	}
	if _, err := plist.Unmarshal(data, &m); err != nil {
		return "", err
	}
	if m.Version == "" {
		return "", errors.New("no CFBundleShortVersionString")
	}
	return m.Version, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
