package platform

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
)

// distroFamilies groups distribution IDs by the family whose packaging
// conventions they follow. Host install locations differ per family.
var distroFamilies = []struct {
	family string
	ids    []string
}{
	{FamilyDebian, []string{"debian", "ubuntu", "linuxmint", "pop", "elementary", "zorin", "kali", "raspbian"}},
	{FamilyRHEL, []string{"rhel", "centos", "rocky", "almalinux", "oracle", "amazon"}},
	{FamilyFedora, []string{"fedora", "nobara"}},
	{FamilySUSE, []string{"suse", "opensuse", "opensuse-leap", "opensuse-tumbleweed", "sles"}},
	{FamilyArch, []string{"arch", "manjaro", "endeavouros", "garuda", "cachyos"}},
}

type hostDetector struct{}

// NewDetector returns a Detector that inspects the running system.
func NewDetector() Detector {
	return hostDetector{}
}

// Detect reports the build's OS and architecture, the OS release, and on
// Linux the distribution. A failed release lookup leaves those fields empty.
func (hostDetector) Detect(ctx context.Context) (*Info, error) {
	arch, err := canonicalArch(runtime.GOARCH)
	if err != nil {
		return nil, err
	}
	info := &Info{OS: runtime.GOOS, Arch: arch, ArchRaw: runtime.GOARCH}

	id, family, version, err := host.PlatformInformationWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("detect platform: %w", ctx.Err())
		}
		return info, nil
	}
	info.Version = strings.TrimSpace(version)

	if info.IsLinux() {
		if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
			info.Platform = id
			info.Family = familyOf(id, family)
		}
	}
	return info, nil
}

// canonicalArch maps GOARCH and uname spellings onto the names host
// builds are published under.
func canonicalArch(arch string) (string, error) {
	switch strings.ToLower(arch) {
	case "amd64", "x86_64", "x64":
		return "amd64", nil
	case "arm64", "aarch64":
		return "arm64", nil
	case "386", "i386", "i686", "x86":
		return "386", nil
	}
	return "", fmt.Errorf("unsupported architecture %q", arch)
}

// familyOf resolves the family from the distribution ID first and falls back
// to the family gopsutil reported, which is sometimes empty or the ID itself.
func familyOf(id, reported string) string {
	for _, candidate := range []string{id, strings.ToLower(strings.TrimSpace(reported))} {
		for _, f := range distroFamilies {
			for _, known := range f.ids {
				if candidate == known {
					return f.family
				}
			}
		}
	}
	return FamilyUnknown
}
