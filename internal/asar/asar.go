// Package asar reads the header of packed Electron archives.
//
// A packed archive starts with two pickles: an 8 byte size pickle whose
// payload is the size of the header pickle, then the header pickle holding
// a length prefixed JSON document that indexes the archive's files. The
// host's loader trusts an archive when the sha256 of that JSON string
// matches its integrity metadata.
package asar

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrMalformed is returned when the data is not a packed archive.
var ErrMalformed = errors.New("malformed packed archive")

// maxHeaderSize guards against reading absurd header lengths from a
// corrupt file.
const maxHeaderSize = 256 << 20

// Header is the decoded archive header.
type Header struct {
	// JSON is the raw header document, exactly as stored.
	JSON []byte
	// Size is the header pickle size; file data starts at 8+Size.
	Size uint32
}

// Hash returns the sha256 hex digest of the header JSON.
func (h *Header) Hash() string {
	sum := sha256.Sum256(h.JSON)
	return hex.EncodeToString(sum[:])
}

// ReadHeader decodes the header from r.
func ReadHeader(r io.Reader) (*Header, error) {
	var prefix [16]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("%w: short size pickle: %v", ErrMalformed, err)
	}

	if binary.LittleEndian.Uint32(prefix[0:4]) != 4 {
		return nil, fmt.Errorf("%w: bad size pickle", ErrMalformed)
	}
	headerSize := binary.LittleEndian.Uint32(prefix[4:8])
	strLen := binary.LittleEndian.Uint32(prefix[12:16])

	if headerSize < 8 || strLen > headerSize-8 || strLen > maxHeaderSize {
		return nil, fmt.Errorf("%w: header length %d exceeds pickle size %d", ErrMalformed, strLen, headerSize)
	}

	buf := make([]byte, strLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrMalformed, err)
	}
	return &Header{JSON: buf, Size: headerSize}, nil
}

// ReadHeaderFile decodes the header of the archive at path.
func ReadHeaderFile(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadHeader(f)
}

// HeaderHash returns the integrity hash of the archive at path.
func HeaderHash(path string) (string, error) {
	h, err := ReadHeaderFile(path)
	if err != nil {
		return "", err
	}
	return h.Hash(), nil
}

// Encode builds a minimal packed archive around headerJSON followed by
// body. It is the inverse of ReadHeader and is used to produce fixtures.
func Encode(headerJSON, body []byte) []byte {
	strLen := uint32(len(headerJSON))
	padded := (strLen + 3) &^ 3
	payload := 4 + padded
	headerSize := 4 + payload

	out := make([]byte, 8+headerSize, 8+int(headerSize)+len(body))
	binary.LittleEndian.PutUint32(out[0:4], 4)
	binary.LittleEndian.PutUint32(out[4:8], headerSize)
	binary.LittleEndian.PutUint32(out[8:12], payload)
	binary.LittleEndian.PutUint32(out[12:16], strLen)
	copy(out[16:], headerJSON)
	return append(out, body...)
}

// entry is a node of the header's file tree.
type entry struct {
	Files    map[string]*entry `json:"files,omitempty"`
	Size     int64             `json:"size"`
	Offset   string            `json:"offset,omitempty"`
	Unpacked bool              `json:"unpacked,omitempty"`
}

// ErrNotFound is returned by ReadFile for names absent from the archive.
var ErrNotFound = errors.New("file not found in archive")

// ReadFile returns the contents of the slash separated name stored in the
// archive at path. Files kept in the unpacked directory are not readable
// through the archive.
func ReadFile(path, name string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, err := ReadHeader(f)
	if err != nil {
		return nil, err
	}
	var root entry
	if err := json.Unmarshal(h.JSON, &root); err != nil {
		return nil, fmt.Errorf("%w: header json: %v", ErrMalformed, err)
	}

	node := &root
	for _, part := range strings.Split(strings.Trim(name, "/"), "/") {
		next, ok := node.Files[part]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		node = next
	}
	if node.Files != nil || node.Unpacked {
		return nil, fmt.Errorf("%w: %s is not a packed file", ErrNotFound, name)
	}
	offset, err := strconv.ParseInt(node.Offset, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad offset for %s", ErrMalformed, name)
	}

	buf := make([]byte, node.Size)
	if _, err := f.ReadAt(buf, 8+int64(h.Size)+offset); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrMalformed, name, err)
	}
	return buf, nil
}
