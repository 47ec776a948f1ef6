package install

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/archive"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/cache"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/download"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/fsutil"
)

// UnpackedMarkerName is written inside the unpacked directory and holds
// the checksum of the bundle it was installed from.
const UnpackedMarkerName = ".modpatch_unpacked_checksum"

const defaultUnpackedExt = ".zip"

func isUncompressed(link string) bool {
	return archive.CompressionFor(archive.ExtFromLink(link)) == archive.CompressionNone
}

func readMarker(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, UnpackedMarkerName))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (s *session) installUnpacked(ctx context.Context, desc ModDescriptor, rng progressRange) error {
	s.enter(PhaseResolvingUnpacked)
	s.progress(rng.base)

	target := s.paths.UnpackedDir
	if desc.UnpackedChecksum != "" && fsutil.Exists(target) {
		switch installed := readMarker(target); {
		case installed == "":
		case strings.EqualFold(installed, desc.UnpackedChecksum):
			s.logger.Info("unpacked resources already installed, skipping", "checksum", installed)
			s.progress(rng.end())
			return nil
		default:
			s.logger.Info("unpacked resources changed, reinstalling", "installed", installed, "want", desc.UnpackedChecksum)
			if err := os.RemoveAll(target); err != nil {
				s.logger.Warn("failed to remove old unpacked directory", "error", err)
			}
		}
	}

	ext := archive.ExtFromLink(desc.UnpackLink)
	if ext == "" {
		ext = defaultUnpackedExt
	}
	tmpArchive := filepath.Join(s.o.TempDir, "unpacked-"+s.id+ext)
	tmpExtract := filepath.Join(s.o.TempDir, "unpacked-"+s.id)
	defer func() {
		removeQuietly(s.logger, tmpArchive)
		if err := os.RemoveAll(tmpExtract); err != nil {
			s.logger.Warn("failed to remove extraction directory", "path", tmpExtract, "error", err)
		}
	}()

	raw, err := s.resolveUnpacked(ctx, desc, ext, tmpArchive, rng)
	if err != nil {
		return err
	}

	data, err := archive.Decompress(raw, ext)
	if err != nil {
		return fmt.Errorf("decompress unpacked bundle: %w", err)
	}
	if err := archive.ExtractZip(data, tmpExtract); err != nil {
		return fmt.Errorf("extract unpacked bundle: %w", err)
	}
	root, err := archive.ResolveExtractedRoot(tmpExtract, target)
	if err != nil {
		return err
	}

	s.enter(PhaseReplacingUnpackedDir)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create resource directory: %w", err)
	}
	if err := s.o.Replacer.Replace(ctx, root, target, tmpExtract); err != nil {
		return err
	}

	if desc.UnpackedChecksum != "" {
		marker := filepath.Join(target, UnpackedMarkerName)
		if err := fsutil.WriteFileAtomic(marker, []byte(strings.ToLower(desc.UnpackedChecksum)), 0644); err != nil {
			s.logger.Warn("failed to write unpacked marker", "path", marker, "error", err)
		}
	}
	s.progress(rng.end())
	return nil
}

// resolveUnpacked returns the raw bundle bytes from the cache or the
// network. Fresh downloads are cached under their own hash.
func (s *session) resolveUnpacked(ctx context.Context, desc ModDescriptor, ext, tmp string, rng progressRange) ([]byte, error) {
	if entry, ok := s.o.Cache.Lookup(desc.UnpackedChecksum, ext, cache.KindUnpacked); ok {
		data, err := s.o.Cache.Read(entry.Path, desc.UnpackedChecksum)
		if err != nil {
			s.logger.Warn("failed to read cached unpacked bundle", "error", err)
		} else if data != nil {
			s.rep.Message("using cached unpacked resources")
			return data, nil
		}
	}

	s.rep.Message("downloading " + unpackedName(desc.UnpackLink))
	res, err := s.o.Downloader.Download(ctx, download.Job{
		URL:              desc.UnpackLink,
		TempPath:         tmp,
		ExpectedChecksum: desc.UnpackedChecksum,
		ProgressBase:     rng.base,
		ProgressScale:    rng.scale,
		Progress:         s.progress,
	})
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(res.Path)
	if err != nil {
		return nil, err
	}
	if _, err := s.o.Cache.Put(res.Checksum, ext, res.Path, cache.KindUnpacked); err != nil {
		s.logger.Warn("failed to cache unpacked bundle", "error", err)
	}
	return data, nil
}

func unpackedName(link string) string {
	name := path.Base(link)
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if name == "" || name == "." || name == "/" {
		return "unpacked resources"
	}
	return name
}
