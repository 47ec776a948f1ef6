package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/logging"
	"github.com/dustin/go-humanize"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 10 * time.Minute
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "modpatch/1.0"
)

// ErrChecksumMismatch is returned when the downloaded bytes do not hash to
// the expected checksum. The temporary file has already been removed.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// NetworkError wraps transport failures and unexpected HTTP statuses.
type NetworkError struct {
	URL    string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("download %s: unexpected status code: %d", e.URL, e.Status)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProgressFunc receives overall progress as a fraction in [0, 1].
type ProgressFunc func(fraction float64)

// Job describes a single download.
type Job struct {
	URL string
	// TempPath receives the body. Parent directories are created.
	TempPath string
	// ExpectedChecksum is an optional sha256 hex digest.
	ExpectedChecksum string
	// ProgressBase and ProgressScale map this download's own progress
	// p in [0, 1] to ProgressBase + p*ProgressScale.
	ProgressBase  float64
	ProgressScale float64
	Progress      ProgressFunc
}

// Result describes a completed download.
type Result struct {
	Path     string
	Checksum string
	Size     int64
}

// Downloader performs checksummed HTTP downloads.
type Downloader struct {
	client    *http.Client
	userAgent string
	logger    logging.Logger
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) { d.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(d *Downloader) {
		if ua != "" {
			d.userAgent = ua
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(d *Downloader) { d.logger = logging.OrNop(l) }
}

// NewDownloader creates a new downloader
func NewDownloader(opts ...Option) *Downloader {
	d := &Downloader{
		client: &http.Client{
			Timeout: DefaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		userAgent: DefaultUserAgent,
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download fetches job.URL into job.TempPath, hashing as it goes. On any
// failure the temporary file is removed.
func (d *Downloader) Download(ctx context.Context, job Job) (*Result, error) {
	if job.URL == "" {
		return nil, fmt.Errorf("download: empty URL")
	}
	if job.TempPath == "" {
		return nil, fmt.Errorf("download: empty temp path")
	}

	resp, err := d.get(ctx, job.URL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(job.TempPath), 0755); err != nil {
		return nil, fmt.Errorf("create dest dir: %w", err)
	}
	tmpFile, err := os.Create(job.TempPath)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(job.TempPath)
		}
	}()

	hasher := sha256.New()
	counter := &progressCounter{total: resp.ContentLength, job: job}
	counter.report(0)

	n, err := io.Copy(io.MultiWriter(tmpFile, hasher, counter), resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{URL: job.URL, Err: err}
	}
	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	if job.ExpectedChecksum != "" && !strings.EqualFold(sum, job.ExpectedChecksum) {
		d.logger.Warn("downloaded file failed checksum", "url", job.URL, "expected", job.ExpectedChecksum, "actual", sum)
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, job.ExpectedChecksum, sum)
	}

	counter.report(1)
	cleanupNeeded = false
	d.logger.Debug("download complete", "url", job.URL, "size", humanize.Bytes(uint64(n)), "sha256", sum)

	return &Result{Path: job.TempPath, Checksum: sum, Size: n}, nil
}

// Fetch reads a small resource, such as a detached signature, into memory.
func (d *Downloader) Fetch(ctx context.Context, url string, limit int64) ([]byte, error) {
	resp, err := d.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	return data, nil
}

func (d *Downloader) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{URL: url, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &NetworkError{URL: url, Status: resp.StatusCode}
	}
	return resp, nil
}

// progressCounter counts bytes and reports scaled progress. Reports are
// emitted only when the integer percentage changes.
type progressCounter struct {
	total   int64
	written int64
	last    int
	job     Job
}

func (p *progressCounter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.total > 0 {
		p.report(float64(p.written) / float64(p.total))
	}
	return len(b), nil
}

func (p *progressCounter) report(fraction float64) {
	if p.job.Progress == nil {
		return
	}
	if fraction > 1 {
		fraction = 1
	}
	overall := p.job.ProgressBase + fraction*p.job.ProgressScale
	pct := int(overall * 100)
	if fraction > 0 && fraction < 1 && pct == p.last {
		return
	}
	p.last = pct
	p.job.Progress(overall)
}

// SHA256File returns the hex sha256 digest of the file at path.
func SHA256File(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// SHA256Bytes returns the hex sha256 digest of data.
func SHA256Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
