package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/platform"
	lua "github.com/yuin/gopher-lua"
)

// Parser evaluates Lua configuration with platform detection.
type Parser struct {
	detector platform.Detector
	dirs     dirs
}

// NewParser creates a new config parser with the given platform detector.
// A nil detector skips the platform table and the platform defaults.
func NewParser(detector platform.Detector) *Parser {
	return &Parser{detector: detector, dirs: userDirs()}
}

// ParseError represents a config parsing error with friendly message.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details (raw Lua error)
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// LoadFile parses the config at path. A missing file yields the platform
// defaults.
func (p *Parser) LoadFile(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		info, err := p.detect(ctx)
		if err != nil {
			return nil, err
		}
		return defaultsFor(info, p.dirs), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return p.ParseString(ctx, string(data))
}

// ParseString parses a Lua config from a string.
func (p *Parser) ParseString(ctx context.Context, luaCode string) (*Config, error) {
	L := newSandboxedVM()
	defer L.Close()

	info, err := p.detect(ctx)
	if err != nil {
		return nil, err
	}
	if info != nil {
		if err := platform.InjectPlatformTable(L, info); err != nil {
			return nil, fmt.Errorf("inject platform table: %w", err)
		}
	}
	injectPaths(L, p.dirs)

	if err := L.DoString(luaCode); err != nil {
		return nil, &ParseError{
			Message: "Lua syntax error",
			Detail:  err.Error(),
		}
	}

	cfg := defaultsFor(info, p.dirs)
	if err := extractConfig(L, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, &ParseError{
			Message: "config validation failed",
			Detail:  err.Error(),
		}
	}
	return cfg, nil
}

func (p *Parser) detect(ctx context.Context) (*platform.Info, error) {
	if p.detector == nil {
		return nil, nil
	}
	info, err := p.detector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("platform detection failed: %w", err)
	}
	return info, nil
}

// extractConfig overlays the global modpatch table onto cfg.
func extractConfig(L *lua.LState, cfg *Config) error {
	root := L.GetGlobal(luaGlobalModpatch)
	if root.Type() != lua.LTTable {
		return &ParseError{
			Message: fmt.Sprintf("missing or invalid '%s' table", luaGlobalModpatch),
			Detail:  fmt.Sprintf("expected table, got %s", root.Type()),
		}
	}
	table := root.(*lua.LTable)

	fields := []struct {
		name string
		dst  *string
	}{
		{luaFieldServerURL, &cfg.ServerURL},
		{luaFieldUserAgent, &cfg.UserAgent},
		{luaFieldCacheDir, &cfg.CacheDir},
		{luaFieldTempDir, &cfg.TempDir},
		{luaFieldStateFile, &cfg.StateFile},
		{luaFieldLogLevel, &cfg.LogLevel},
		{luaFieldLogFile, &cfg.LogFile},
		{luaFieldKeyring, &cfg.Keyring},
		{luaFieldScheme, &cfg.DeeplinkScheme},
	}
	for _, f := range fields {
		if err := stringField(table, f.name, f.dst); err != nil {
			return err
		}
	}

	hostVal := table.RawGetString(luaFieldHost)
	switch hostVal.Type() {
	case lua.LTNil:
	case lua.LTTable:
		if err := extractHost(hostVal.(*lua.LTable), &cfg.Host); err != nil {
			return err
		}
	default:
		return &ParseError{
			Message: "invalid 'host' field",
			Detail:  fmt.Sprintf("expected table, got %s", hostVal.Type()),
		}
	}
	return nil
}

func extractHost(table *lua.LTable, host *Host) error {
	fields := []struct {
		name string
		dst  *string
	}{
		{luaFieldResourceDir, &host.ResourceDir},
		{luaFieldArchiveName, &host.ArchiveName},
		{luaFieldExecutable, &host.Executable},
		{luaFieldProcessName, &host.ProcessName},
		{luaFieldBundlePath, &host.BundlePath},
		{luaFieldManifest, &host.ManifestPath},
		{luaFieldIntegrity, &host.IntegrityKey},
		{luaFieldInstaller, &host.InstallerURL},
	}
	for _, f := range fields {
		if err := stringField(table, f.name, f.dst); err != nil {
			return &ParseError{Message: "invalid host section", Detail: err.Error()}
		}
	}
	if host.ResourceDir != "" {
		host.ResourceDir = filepath.Clean(host.ResourceDir)
	}
	return nil
}

// stringField copies a string field into dst. nil (including values dropped
// by platform.when) leaves dst untouched; other types are errors.
func stringField(table *lua.LTable, name string, dst *string) error {
	v := table.RawGetString(name)
	switch v.Type() {
	case lua.LTNil:
		return nil
	case lua.LTString:
		*dst = strings.TrimSpace(v.String())
		return nil
	default:
		return &ParseError{
			Message: fmt.Sprintf("invalid '%s' field", name),
			Detail:  fmt.Sprintf("expected string, got %s", v.Type()),
		}
	}
}

// FormatError formats a ParseError for user display. In verbose mode the raw
// Lua error is shown.
func FormatError(err error, verbose bool) string {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		if verbose {
			return fmt.Sprintf("%s\n\nDetails:\n%s", parseErr.Message, parseErr.Detail)
		}
		detail := parseErr.Detail
		if idx := strings.Index(detail, "stack traceback"); idx > 0 {
			detail = strings.TrimSpace(detail[:idx])
		}
		return fmt.Sprintf("%s: %s", parseErr.Message, detail)
	}
	return err.Error()
}
