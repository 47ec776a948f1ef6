package resign

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/asar"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/logging"
	"github.com/folbricht/pefile"
)

// integrityResourceType is the resource type Electron embeds archive
// hashes under.
const integrityResourceType = "INTEGRITY"

// integrityRecord is one entry of the embedded JSON array.
type integrityRecord struct {
	File  string `json:"file"`
	Alg   string `json:"alg"`
	Value string `json:"value"`
}

// Windows patches the integrity resource of the host executable in place.
type Windows struct {
	ExePath string
	// Key is the record's file field, e.g. `resources\app.asar`.
	Key    string
	Logger logging.Logger
}

// Resign writes the header hash of archivePath into the executable.
func (w *Windows) Resign(ctx context.Context, archivePath string) error {
	logger := logging.OrNop(w.Logger)

	hash, err := asar.HeaderHash(archivePath)
	if err != nil {
		return fmt.Errorf("hash archive header: %w", err)
	}

	raw, err := os.ReadFile(w.ExePath)
	if err != nil {
		return fmt.Errorf("read executable: %w", err)
	}

	offset, blob, err := locateIntegrityBlob(raw)
	if err != nil {
		return err
	}

	patched, changed, err := patchIntegrityJSON(blob, w.Key, hash)
	if err != nil {
		return err
	}
	if !changed {
		logger.Debug("integrity hash already current", "exe", w.ExePath)
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.OpenFile(w.ExePath, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open executable for writing: %w", err)
	}
	if _, err := f.WriteAt(patched, int64(offset)); err != nil {
		f.Close()
		return fmt.Errorf("write integrity resource: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close executable: %w", err)
	}

	logger.Info("updated integrity hash in executable", "exe", w.ExePath, "hash", hash)
	return nil
}

// locateIntegrityBlob returns the offset and bytes of the JSON integrity
// resource inside raw. The PE resource table is consulted first; images
// that fail to parse are scanned for the JSON array directly.
func locateIntegrityBlob(raw []byte) (int, []byte, error) {
	if data := integrityResourceData(raw); len(data) > 0 {
		data = bytes.TrimRight(data, "\x00")
		if idx := bytes.Index(raw, data); idx >= 0 {
			return idx, data, nil
		}
	}

	start := bytes.Index(raw, []byte(`[{"file":`))
	if start < 0 {
		return 0, nil, ErrResourceNotFound
	}
	end := bytes.Index(raw[start:], []byte("}]"))
	if end < 0 {
		return 0, nil, ErrResourceNotFound
	}
	return start, raw[start : start+end+2], nil
}

func integrityResourceData(raw []byte) []byte {
	pe, err := pefile.New(bytes.NewReader(raw))
	if err != nil {
		return nil
	}
	resources, err := pe.GetResources()
	if err != nil {
		return nil
	}
	for _, r := range resources {
		for _, part := range strings.Split(r.Name, "/") {
			if strings.EqualFold(part, integrityResourceType) {
				return r.Data
			}
		}
	}
	return nil
}

// patchIntegrityJSON sets the value of the record for key to hash. The
// result must be exactly as long as blob.
func patchIntegrityJSON(blob []byte, key, hash string) ([]byte, bool, error) {
	var records []integrityRecord
	if err := json.Unmarshal(blob, &records); err != nil {
		return nil, false, fmt.Errorf("parse integrity resource: %w", err)
	}

	idx := -1
	for i, r := range records {
		if strings.EqualFold(r.File, key) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false, fmt.Errorf("%w: no record for %q", ErrResourceNotFound, key)
	}
	if strings.EqualFold(records[idx].Value, hash) {
		return blob, false, nil
	}
	records[idx].Value = hash

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(records); err != nil {
		return nil, false, fmt.Errorf("encode integrity resource: %w", err)
	}
	out := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))

	if len(out) != len(blob) {
		return nil, false, fmt.Errorf("%w: %d bytes, original %d", ErrLengthMismatch, len(out), len(blob))
	}
	return out, true, nil
}
