package install

import (
	"fmt"
	"net/url"
	"regexp"
)

var sha256Hex = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// ModDescriptor describes one mod release.
type ModDescriptor struct {
	Version        string `json:"version"`
	HostAppVersion string `json:"hostAppVersion"`
	Name           string `json:"name"`
	// Link is the packed archive, optionally gzip or zstd compressed.
	Link string `json:"link"`
	// UnpackLink is an optional zip of unpacked resources.
	UnpackLink string `json:"unpackLink,omitempty"`
	// Checksum is the sha256 of the decompressed packed archive.
	Checksum string `json:"checksum,omitempty"`
	// UnpackedChecksum is the sha256 of the unpacked bundle as downloaded.
	UnpackedChecksum string `json:"unpackedChecksum,omitempty"`
	// SignatureLink is an optional detached OpenPGP signature over the
	// downloaded archive.
	SignatureLink string `json:"signatureLink,omitempty"`
}

// Flags alter an install run.
type Flags struct {
	// Force skips the compatibility check.
	Force bool
	// Spoof installs regardless of the reported host version.
	Spoof bool
	// ShouldReinstall asks for a one-time host reinstall on Windows.
	ShouldReinstall bool
}

// Validate checks links and checksums.
func (d *ModDescriptor) Validate() error {
	if err := validateLink(d.Link); err != nil {
		return fmt.Errorf("%w: link: %v", ErrInvalidPath, err)
	}
	if d.UnpackLink != "" {
		if err := validateLink(d.UnpackLink); err != nil {
			return fmt.Errorf("%w: unpack link: %v", ErrInvalidPath, err)
		}
	}
	if d.SignatureLink != "" {
		if err := validateLink(d.SignatureLink); err != nil {
			return fmt.Errorf("%w: signature link: %v", ErrInvalidPath, err)
		}
	}
	for name, sum := range map[string]string{"checksum": d.Checksum, "unpacked checksum": d.UnpackedChecksum} {
		if sum != "" && !sha256Hex.MatchString(sum) {
			return fmt.Errorf("%w: %s is not a sha256 hex digest", ErrInvalidPath, name)
		}
	}
	return nil
}

func validateLink(link string) error {
	if link == "" {
		return fmt.Errorf("empty")
	}
	u, err := url.Parse(link)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
