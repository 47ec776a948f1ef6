// Package platform detects the operating system and architecture modpatch is
// running on.
//
// The result decides which integrity resigner is used, where the host
// application lives by default, and which host-specific retry budgets apply.
// It is also injected read-only into the Lua configuration so users can
// express per-platform paths declaratively.
package platform

import "context"

// Supported operating systems.
const (
	OSWindows = "windows"
	OSDarwin  = "darwin"
	OSLinux   = "linux"
)

// Linux distribution family constants.
const (
	FamilyDebian  = "debian"  // Debian, Ubuntu, Linux Mint
	FamilyRHEL    = "rhel"    // RHEL, CentOS, Rocky Linux
	FamilyFedora  = "fedora"  // Fedora
	FamilySUSE    = "suse"    // openSUSE, SLES
	FamilyArch    = "arch"    // Arch Linux, Manjaro
	FamilyUnknown = "unknown" // Unrecognized distributions
)

// Info contains platform detection information.
type Info struct {
	OS       string // "linux", "darwin", "windows"
	Arch     string // "amd64", "arm64", "386" (normalized)
	ArchRaw  string // original GOARCH
	Platform string // distro ID (Linux only, e.g., "ubuntu")
	Family   string // canonical family (Linux only)
	Version  string // OS release: distro version on Linux, 14.5 on macOS, 10.0.22631 on Windows
}

// IsLinux returns true if the platform is Linux.
func (i *Info) IsLinux() bool {
	return i.OS == OSLinux
}

// IsMacOS returns true if the platform is macOS.
func (i *Info) IsMacOS() bool {
	return i.OS == OSDarwin
}

// IsWindows returns true if the platform is Windows.
func (i *Info) IsWindows() bool {
	return i.OS == OSWindows
}

// MandatoryLocking reports whether open files on this platform block rename
// and delete. Directory replacement retries harder when it does.
func (i *Info) MandatoryLocking() bool {
	return i.IsWindows()
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// Static returns a Detector that always reports info.
func Static(info *Info) Detector {
	return staticDetector{info: info}
}

type staticDetector struct {
	info *Info
}

func (s staticDetector) Detect(ctx context.Context) (*Info, error) {
	return s.info, nil
}
