package download

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
)

// ErrBadSignature is returned when a detached signature does not verify
// against the keyring.
var ErrBadSignature = errors.New("signature verification failed")

// Verifier checks OpenPGP detached signatures over downloaded archives.
type Verifier struct {
	keyring openpgp.EntityList
}

// NewVerifier loads an armored or binary public keyring from path.
func NewVerifier(keyringPath string) (*Verifier, error) {
	f, err := os.Open(keyringPath)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	defer f.Close()

	keyring, err := readKeyring(f)
	if err != nil {
		return nil, err
	}
	return &Verifier{keyring: keyring}, nil
}

func readKeyring(r io.ReadSeeker) (openpgp.EntityList, error) {
	keyring, err := openpgp.ReadArmoredKeyRing(r)
	if err != nil {
		if _, serr := r.Seek(0, io.SeekStart); serr != nil {
			return nil, fmt.Errorf("rewind keyring: %w", serr)
		}
		keyring, err = openpgp.ReadKeyRing(r)
		if err != nil {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
	}
	if len(keyring) == 0 {
		return nil, fmt.Errorf("keyring is empty")
	}
	return keyring, nil
}

// VerifyFile checks signature (armored or binary) over the file at path.
func (v *Verifier) VerifyFile(path string, signature []byte) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open signed file: %w", err)
	}
	defer f.Close()

	_, err = openpgp.CheckArmoredDetachedSignature(v.keyring, f, bytes.NewReader(signature), nil)
	if err != nil {
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			return fmt.Errorf("rewind signed file: %w", serr)
		}
		_, err = openpgp.CheckDetachedSignature(v.keyring, f, bytes.NewReader(signature), nil)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}
