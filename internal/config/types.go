// Package config loads modpatch's engine configuration.
//
// Configuration is a Lua file evaluated in a sandboxed VM. A read-only
// platform table and a small paths helper table are injected first, so host
// locations can be written per platform:
//
//	modpatch = {
//	    server_url = "https://mods.example.net",
//	    host = {
//	        resource_dir = platform.is_windows
//	            and paths.join(paths.env("LOCALAPPDATA"), "Programs", "YandexMusic", "resources")
//	            or "/opt/yandex-music/resources",
//	    },
//	}
//
// Fields left out keep their platform defaults (see Default).
package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Config is the complete engine configuration.
type Config struct {
	// ServerURL is the base URL of the compatibility service.
	ServerURL string `json:"server_url"`
	// UserAgent is sent with every HTTP request.
	UserAgent string `json:"user_agent"`
	// CacheDir holds content-addressed archives.
	CacheDir string `json:"cache_dir"`
	// TempDir holds in-flight downloads and extraction dirs.
	TempDir string `json:"temp_dir"`
	// StateFile is the persisted key-value state document.
	StateFile string `json:"state_file"`
	LogLevel  string `json:"log_level,omitempty"`
	LogFile   string `json:"log_file,omitempty"`
	// Keyring is an optional OpenPGP public keyring used to verify
	// detached signatures on downloaded archives.
	Keyring string `json:"keyring,omitempty"`
	// DeeplinkScheme is the URL scheme accepted by install-from.
	DeeplinkScheme string `json:"deeplink_scheme"`

	Host Host `json:"host"`
}

// Host describes where the host application keeps its resources.
type Host struct {
	// ResourceDir contains the packed archive.
	ResourceDir string `json:"resource_dir"`
	// ArchiveName is the packed archive file name inside ResourceDir.
	ArchiveName string `json:"archive_name"`
	// Executable launches the host and, on Windows, embeds the integrity
	// resource.
	Executable string `json:"executable"`
	// ProcessName matches running host processes.
	ProcessName string `json:"process_name"`
	// BundlePath is the macOS .app bundle root.
	BundlePath string `json:"bundle_path,omitempty"`
	// ManifestPath is the macOS Info.plist.
	ManifestPath string `json:"manifest_path,omitempty"`
	// IntegrityKey names the archive inside the host's integrity records.
	IntegrityKey string `json:"integrity_key,omitempty"`
	// InstallerURL is the official host installer, used to repair an
	// installation whose original archive is gone.
	InstallerURL string `json:"installer_url,omitempty"`
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("%s is required", luaFieldServerURL)
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", luaFieldServerURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %s: scheme must be http or https, got %q", luaFieldServerURL, u.Scheme)
	}
	if c.CacheDir == "" {
		return fmt.Errorf("%s is required", luaFieldCacheDir)
	}
	if c.TempDir == "" {
		return fmt.Errorf("%s is required", luaFieldTempDir)
	}
	if c.StateFile == "" {
		return fmt.Errorf("%s is required", luaFieldStateFile)
	}
	if c.DeeplinkScheme == "" || strings.ContainsAny(c.DeeplinkScheme, ":/ ") {
		return fmt.Errorf("invalid %s: %q", luaFieldScheme, c.DeeplinkScheme)
	}
	return c.Host.Validate()
}

// Validate checks the host section.
func (h *Host) Validate() error {
	if h.ResourceDir == "" {
		return fmt.Errorf("host.%s is required", luaFieldResourceDir)
	}
	if !strings.HasSuffix(strings.ToLower(h.ArchiveName), ".asar") {
		return fmt.Errorf("host.%s must name a .asar file, got %q", luaFieldArchiveName, h.ArchiveName)
	}
	if h.ProcessName == "" {
		return fmt.Errorf("host.%s is required", luaFieldProcessName)
	}
	return nil
}
