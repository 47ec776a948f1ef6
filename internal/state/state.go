// Package state persists install state and user settings between runs.
//
// The store is a JSON document addressed with dotted keys (mod.checksum,
// settings.modSavePath, app.version). Lookups are case-insensitive; the
// installer's own keys are written with their canonical casing. Every
// mutation is written to disk immediately with a write-then-rename, so a
// crash leaves either the previous or the new document.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/fsutil"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/logging"
	"github.com/spf13/viper"
)

// Keys used by the installer.
const (
	KeyModInstalled        = "mod.installed"
	KeyModVersion          = "mod.version"
	KeyModHostAppVersion   = "mod.hostAppVersion"
	KeyModName             = "mod.name"
	KeyModChecksum         = "mod.checksum"
	KeyModUnpackedChecksum = "mod.unpackedChecksum"
	KeyModSavePath         = "settings.modSavePath"
	KeyHostReinstalled     = "settings.hostReinstalled"
	KeyAppVersion          = "app.version"
)

// InstallState is the persisted record of the installed mod.
type InstallState struct {
	Installed        bool   `json:"installed"`
	Version          string `json:"version,omitempty"`
	HostAppVersion   string `json:"hostAppVersion,omitempty"`
	Name             string `json:"name,omitempty"`
	Checksum         string `json:"checksum,omitempty"`
	UnpackedChecksum string `json:"unpackedChecksum,omitempty"`
}

// Store is a file-backed key-value store.
type Store struct {
	mu     sync.Mutex
	path   string
	v      *viper.Viper
	logger logging.Logger
}

// Open loads the document at path. A missing file is an empty store.
func Open(path string, logger logging.Logger) (*Store, error) {
	s := &Store{path: path, v: newViper(), logger: logging.OrNop(logger)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return s, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("state file is corrupt, starting empty", "path", path, "error", err)
		return s, nil
	}
	if err := s.v.MergeConfigMap(doc); err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return s, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")
	return v
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// GetString returns the string at key.
func (s *Store) GetString(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetString(key)
}

// GetBool returns the bool at key.
func (s *Store) GetBool(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetBool(key)
}

// Set stores value at key and persists the document.
func (s *Store) Set(key string, value any) error {
	return s.Update(map[string]any{key: value}, nil)
}

// Update applies deletions, then sets, then persists once.
func (s *Store) Update(set map[string]any, del []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.v.AllSettings()
	for _, key := range del {
		deleteKey(doc, key)
	}
	next := newViper()
	if err := next.MergeConfigMap(doc); err != nil {
		return fmt.Errorf("rebuild state: %w", err)
	}
	for key, value := range set {
		next.Set(key, value)
	}
	if err := s.save(next); err != nil {
		return err
	}
	s.v = next
	return nil
}

// deleteKey removes a dotted key from a nested map.
func deleteKey(doc map[string]any, key string) {
	parts := strings.Split(strings.ToLower(key), ".")
	m := doc
	for _, p := range parts[:len(parts)-1] {
		child, ok := m[p].(map[string]any)
		if !ok {
			return
		}
		m = child
	}
	delete(m, parts[len(parts)-1])
}

// canonicalKeys maps viper's lowercased dotted paths back to the names
// written on disk.
var canonicalKeys = func() map[string]string {
	m := map[string]string{}
	for _, key := range []string{
		KeyModInstalled, KeyModVersion, KeyModHostAppVersion, KeyModName,
		KeyModChecksum, KeyModUnpackedChecksum, KeyModSavePath,
		KeyHostReinstalled, KeyAppVersion,
	} {
		parts := strings.Split(key, ".")
		for i := range parts {
			prefix := strings.Join(parts[:i+1], ".")
			m[strings.ToLower(prefix)] = parts[i]
		}
	}
	return m
}()

// restoreCase rebuilds doc with known keys in their canonical case.
func restoreCase(doc map[string]any, prefix string) map[string]any {
	out := make(map[string]any, len(doc))
	for k, value := range doc {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		name := k
		if canonical, ok := canonicalKeys[path]; ok {
			name = canonical
		}
		if child, ok := value.(map[string]any); ok {
			value = restoreCase(child, path)
		}
		out[name] = value
	}
	return out
}

func (s *Store) save(v *viper.Viper) error {
	data, err := json.MarshalIndent(restoreCase(v.AllSettings(), ""), "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0600); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Mod returns the persisted install state.
func (s *Store) Mod() InstallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return InstallState{
		Installed:        s.v.GetBool(KeyModInstalled),
		Version:          s.v.GetString(KeyModVersion),
		HostAppVersion:   s.v.GetString(KeyModHostAppVersion),
		Name:             s.v.GetString(KeyModName),
		Checksum:         s.v.GetString(KeyModChecksum),
		UnpackedChecksum: s.v.GetString(KeyModUnpackedChecksum),
	}
}

// SaveMod persists st, replacing every mod key.
func (s *Store) SaveMod(st InstallState) error {
	set := map[string]any{KeyModInstalled: st.Installed}
	var del []string
	for key, value := range map[string]string{
		KeyModVersion:          st.Version,
		KeyModHostAppVersion:   st.HostAppVersion,
		KeyModName:             st.Name,
		KeyModChecksum:         st.Checksum,
		KeyModUnpackedChecksum: st.UnpackedChecksum,
	} {
		if value == "" {
			del = append(del, key)
		} else {
			set[key] = value
		}
	}
	return s.Update(set, del)
}

// ClearMod deletes the mod keys and marks the mod uninstalled.
func (s *Store) ClearMod() error {
	return s.Update(
		map[string]any{KeyModInstalled: false},
		[]string{KeyModVersion, KeyModHostAppVersion, KeyModName, KeyModChecksum, KeyModUnpackedChecksum},
	)
}
