package hostapp

import (
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/config"
)

// VersionMarkerName is written into the resource directory after an
// install and records the host version the mod was built for.
const VersionMarkerName = "version.bin"

// Paths are the on-disk locations one install run works with.
type Paths struct {
	ResourceDir string
	// DefaultArchive is where the host ships its archive.
	DefaultArchive string
	// TargetArchive is the archive being modded. It differs from
	// DefaultArchive only when the user overrides the save path.
	TargetArchive string
	BackupArchive string
	UnpackedDir   string
	VersionMarker string
	Manifest      string
}

// ResolvePaths computes Paths for host. A non-empty modSavePath overrides
// the target archive.
func ResolvePaths(host config.Host, modSavePath string) Paths {
	def := filepath.Join(host.ResourceDir, host.ArchiveName)
	target := def
	if modSavePath != "" {
		target = filepath.Clean(modSavePath)
	}
	return Paths{
		ResourceDir:    host.ResourceDir,
		DefaultArchive: def,
		TargetArchive:  target,
		BackupArchive:  BackupPathFor(target),
		UnpackedDir:    target + ".unpacked",
		VersionMarker:  filepath.Join(host.ResourceDir, VersionMarkerName),
		Manifest:       host.ManifestPath,
	}
}

// BackupPathFor returns the backup sibling of archive: app.asar becomes
// app.backup.asar.
func BackupPathFor(archive string) string {
	if strings.HasSuffix(strings.ToLower(archive), ".asar") {
		return archive[:len(archive)-len(".asar")] + ".backup.asar"
	}
	return archive + ".backup"
}
