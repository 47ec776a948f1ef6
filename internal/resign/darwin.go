package resign

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/asar"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/logging"
	"github.com/google/uuid"
	"howett.net/plist"
)

// integrityPlistKey is the Info.plist dictionary Electron reads archive
// hashes from.
const integrityPlistKey = "ElectronAsarIntegrity"

// Darwin rewrites the bundle's Info.plist integrity entry and re-signs the
// bundle ad hoc.
type Darwin struct {
	BundlePath   string
	ManifestPath string
	// Key is the archive path relative to Contents, e.g. Resources/app.asar.
	Key    string
	Run    CommandRunner
	Logger logging.Logger
}

// Preflight refuses to continue when SIP is enabled or the archive and
// manifest are not writable.
func (d *Darwin) Preflight(ctx context.Context, archivePath string) error {
	if out, err := d.Run(ctx, "csrutil", "status"); err == nil {
		if strings.Contains(strings.ToLower(string(out)), "enabled") {
			return &HintError{Err: ErrIntegrityProtection, Hint: PrivacySettingsHint}
		}
	}
	for _, p := range []string{archivePath, d.ManifestPath} {
		if err := probeWritable(p); err != nil {
			return &HintError{Err: fmt.Errorf("%w: %v", ErrNoWriteAccess, err), Hint: PrivacySettingsHint}
		}
	}
	return nil
}

// probeWritable opens an existing file for writing without modifying it.
// Missing files are probed through their directory.
func probeWritable(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err == nil {
		return f.Close()
	}
	if !os.IsNotExist(err) {
		return err
	}
	probe := filepath.Join(filepath.Dir(path), ".modpatch-write-probe-"+uuid.NewString())
	f, err = os.Create(probe)
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(probe)
}

// Resign writes the archive's header hash into Info.plist and re-signs the
// bundle.
func (d *Darwin) Resign(ctx context.Context, archivePath string) error {
	logger := logging.OrNop(d.Logger)

	if err := d.Preflight(ctx, archivePath); err != nil {
		return err
	}

	hash, err := asar.HeaderHash(archivePath)
	if err != nil {
		return fmt.Errorf("hash archive header: %w", err)
	}
	if err := d.writeManifest(hash); err != nil {
		return err
	}
	logger.Info("updated integrity hash in Info.plist", "manifest", d.ManifestPath, "hash", hash)

	steps := [][]string{
		{"xattr", "-cr", d.BundlePath},
		{"codesign", "--remove-signature", d.BundlePath},
		{"codesign", "--force", "--deep", "--sign", "-", d.BundlePath},
	}
	for _, step := range steps {
		out, err := d.Run(ctx, step[0], step[1:]...)
		if err != nil {
			if step[0] == "xattr" {
				logger.Warn("clearing extended attributes failed", "error", err, "output", string(out))
				continue
			}
			return fmt.Errorf("%s: %w: %s", strings.Join(step[:2], " "), err, strings.TrimSpace(string(out)))
		}
	}
	logger.Info("re-signed application bundle", "bundle", d.BundlePath)
	return nil
}

func (d *Darwin) writeManifest(hash string) error {
	data, err := os.ReadFile(d.ManifestPath)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var manifest map[string]any
	format, err := plist.Unmarshal(data, &manifest)
	if err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}

	entries, ok := manifest[integrityPlistKey].(map[string]any)
	if !ok {
		entries = map[string]any{}
	}
	entries[d.Key] = map[string]any{
		"algorithm": "SHA256",
		"hash":      hash,
	}
	manifest[integrityPlistKey] = entries

	out, err := plist.MarshalIndent(manifest, format, "\t")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	info, err := os.Stat(d.ManifestPath)
	if err != nil {
		return fmt.Errorf("stat manifest: %w", err)
	}
	tmp := d.ManifestPath + ".tmp"
	if err := os.WriteFile(tmp, out, info.Mode().Perm()); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, d.ManifestPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}
