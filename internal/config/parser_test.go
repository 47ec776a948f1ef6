package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/platform"
)

func testParser(info *platform.Info) *Parser {
	p := NewParser(nil)
	if info != nil {
		p.detector = platform.Static(info)
	}
	p.dirs = dirs{home: "/home/u", config: "/home/u/.config", cache: "/home/u/.cache", temp: "/tmp", localAppData: `C:\Users\u\AppData\Local`}
	return p
}

func TestParser_ParseString_Minimal(t *testing.T) {
	cfg, err := testParser(&platform.Info{OS: platform.OSLinux, Arch: "amd64"}).ParseString(context.Background(), `modpatch = {}`)
	if err != nil {
		t.Fatalf("ParseString() error = %v", err)
	}

	if cfg.ServerURL != DefaultServerURL {
		t.Errorf("ServerURL = %q, want default", cfg.ServerURL)
	}
	if cfg.Host.ArchiveName != "app.asar" {
		t.Errorf("Host.ArchiveName = %q, want app.asar", cfg.Host.ArchiveName)
	}
	if cfg.CacheDir != filepath.Join("/home/u/.cache", "modpatch", "mods") {
		t.Errorf("CacheDir = %q", cfg.CacheDir)
	}
}

func TestParser_ParseString_Overrides(t *testing.T) {
	code := `
		modpatch = {
			server_url = "https://mods.example.net",
			user_agent = "test-agent",
			cache_dir = paths.join(paths.home, "mods-cache"),
			log_level = "debug",
			host = {
				resource_dir = platform.is_linux and "/srv/host/resources" or "/elsewhere",
				process_name = "host-bin",
				bundle_path = platform.when(platform.is_macos, "/Applications/Host.app"),
				executable = platform.select{
					windows = "C:/Host/host" .. platform.exe_suffix,
					linux = "/srv/host/host",
				},
			},
		}
	`

	cfg, err := testParser(&platform.Info{OS: platform.OSLinux, Arch: "amd64"}).ParseString(context.Background(), code)
	if err != nil {
		t.Fatalf("ParseString() error = %v", err)
	}

	if cfg.ServerURL != "https://mods.example.net" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.UserAgent != "test-agent" {
		t.Errorf("UserAgent = %q", cfg.UserAgent)
	}
	if cfg.CacheDir != filepath.Join("/home/u", "mods-cache") {
		t.Errorf("CacheDir = %q", cfg.CacheDir)
	}
	if cfg.Host.ResourceDir != filepath.Clean("/srv/host/resources") {
		t.Errorf("Host.ResourceDir = %q", cfg.Host.ResourceDir)
	}
	if cfg.Host.ProcessName != "host-bin" {
		t.Errorf("Host.ProcessName = %q", cfg.Host.ProcessName)
	}
	if cfg.Host.Executable != "/srv/host/host" {
		t.Errorf("Host.Executable = %q", cfg.Host.Executable)
	}
	if cfg.Host.BundlePath != "" {
		t.Errorf("Host.BundlePath = %q, want empty on linux", cfg.Host.BundlePath)
	}
}

func TestParser_ParseString_Errors(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantMsg string
	}{
		{"syntax", `modpatch = {`, "Lua syntax error"},
		{"missing_table", `other = {}`, "missing or invalid 'modpatch' table"},
		{"wrong_type", `modpatch = { server_url = 42 }`, "invalid 'server_url' field"},
		{"host_not_table", `modpatch = { host = "x" }`, "invalid 'host' field"},
		{"bad_scheme", `modpatch = { server_url = "ftp://x" }`, "config validation failed"},
		{"not_asar", `modpatch = { host = { archive_name = "app.zip" } }`, "config validation failed"},
		{"sandboxed", `os.exit(1)`, "Lua syntax error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testParser(&platform.Info{OS: platform.OSLinux}).ParseString(context.Background(), tt.code)
			if err == nil {
				t.Fatal("expected error but got none")
			}
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("error type = %T, want *ParseError", err)
			}
			if parseErr.Message != tt.wantMsg && !strings.HasPrefix(parseErr.Message, tt.wantMsg) {
				t.Errorf("Message = %q, want %q", parseErr.Message, tt.wantMsg)
			}
		})
	}
}

func TestParser_LoadFile_MissingUsesDefaults(t *testing.T) {
	p := testParser(&platform.Info{OS: platform.OSWindows, Arch: "amd64"})

	cfg, err := p.LoadFile(context.Background(), filepath.Join(t.TempDir(), DefaultFileName))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if !strings.HasSuffix(cfg.Host.Executable, ".exe") {
		t.Errorf("Host.Executable = %q, want windows executable", cfg.Host.Executable)
	}
	if cfg.Host.IntegrityKey != `resources\app.asar` {
		t.Errorf("Host.IntegrityKey = %q", cfg.Host.IntegrityKey)
	}
}

func TestParser_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte(`modpatch = { keyring = "/etc/modpatch/mods.gpg" }`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := testParser(&platform.Info{OS: platform.OSDarwin, Arch: "arm64"}).LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Keyring != "/etc/modpatch/mods.gpg" {
		t.Errorf("Keyring = %q", cfg.Keyring)
	}
	if cfg.Host.ManifestPath == "" || !strings.HasSuffix(cfg.Host.ManifestPath, "Info.plist") {
		t.Errorf("Host.ManifestPath = %q, want Info.plist default on darwin", cfg.Host.ManifestPath)
	}
}

func TestFormatError(t *testing.T) {
	err := &ParseError{Message: "Lua syntax error", Detail: "line 1: bad\nstack traceback:\n..."}

	if got := FormatError(err, false); got != "Lua syntax error: line 1: bad" {
		t.Errorf("FormatError(short) = %q", got)
	}
	if got := FormatError(err, true); !strings.Contains(got, "stack traceback") {
		t.Errorf("FormatError(verbose) = %q, want raw detail", got)
	}
	if got := FormatError(errors.New("plain"), false); got != "plain" {
		t.Errorf("FormatError(plain) = %q", got)
	}
}
