package install

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/cache"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/compat"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/config"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/download"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/hostapp"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/patcher"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/platform"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/replace"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/state"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

const hostArchive = "host archive v5.30"

var modArchive = []byte("modded archive payload")

type fakeHost struct {
	running  bool
	closed   int
	launched int
	version  string
}

func (h *fakeHost) Running(context.Context) (bool, error) { return h.running, nil }

func (h *fakeHost) Close(context.Context) (bool, error) {
	was := h.running
	if was {
		h.closed++
	}
	h.running = false
	return was, nil
}

func (h *fakeHost) Launch(context.Context) error {
	h.launched++
	h.running = true
	return nil
}

func (h *fakeHost) InstalledVersion(context.Context) string { return h.version }

type fakeCompat struct {
	res   *compat.Result
	err   error
	calls int
}

func (c *fakeCompat) Check(ctx context.Context, modVersion, hostVersion string) (*compat.Result, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.res, nil
}

type fakeReinstaller struct{ calls int }

func (r *fakeReinstaller) Reinstall(context.Context) error {
	r.calls++
	return nil
}

type fakeResigner struct {
	err   error
	calls []string
}

func (r *fakeResigner) Resign(ctx context.Context, path string) error {
	r.calls = append(r.calls, path)
	return r.err
}

type recorder struct {
	progress []int
	messages []string
	success  int
	failures []*Failure
}

func (r *recorder) Progress(p int)     { r.progress = append(r.progress, p) }
func (r *recorder) Message(m string)   { r.messages = append(r.messages, m) }
func (r *recorder) Success()           { r.success++ }
func (r *recorder) Failure(f *Failure) { r.failures = append(r.failures, f) }

type fixture struct {
	o           *Orchestrator
	host        *fakeHost
	compat      *fakeCompat
	reinstaller *fakeReinstaller
	resigner    *fakeResigner
	paths       hostapp.Paths
	srv         *httptest.Server

	mu    sync.Mutex
	files map[string][]byte
	hits  map[string]int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	host := config.Host{ResourceDir: filepath.Join(root, "resources"), ArchiveName: "app.asar"}
	if err := os.MkdirAll(host.ResourceDir, 0755); err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		host:        &fakeHost{running: true, version: "5.30.0"},
		compat:      &fakeCompat{res: &compat.Result{Compatible: true}},
		reinstaller: &fakeReinstaller{},
		resigner:    &fakeResigner{},
		files:       make(map[string][]byte),
		hits:        make(map[string]int),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		data, ok := f.files[r.URL.Path]
		f.hits[r.URL.Path]++
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(f.srv.Close)

	st, err := state.Open(filepath.Join(root, "state.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	info := &platform.Info{OS: "linux", Arch: "amd64"}
	f.o = &Orchestrator{
		Host:        host,
		TempDir:     filepath.Join(root, "tmp"),
		Platform:    info,
		Downloader:  download.NewDownloader(),
		Cache:       cache.New(filepath.Join(root, "cache"), nil),
		Patcher:     patcher.New(f.resigner, nil),
		Replacer:    replace.New(info, nil),
		Process:     f.host,
		Reinstaller: f.reinstaller,
		Compat:      f.compat,
		State:       st,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
	f.paths = hostapp.ResolvePaths(host, "")
	return f
}

func (f *fixture) serve(path string, data []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = data
	return f.srv.URL + path
}

func (f *fixture) hitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.hits {
		n += c
	}
	return n
}

func (f *fixture) descriptor() ModDescriptor {
	return ModDescriptor{
		Version:        "2.1.0",
		HostAppVersion: "5.30.0",
		Name:           "pulse",
		Link:           f.serve("/mod/app.asar", modArchive),
		Checksum:       download.SHA256Bytes(modArchive),
	}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}

func assertMonotonic(t *testing.T, progress []int) {
	t.Helper()
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress went backwards: %v", progress)
		}
	}
	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Errorf("progress should finish at 100, got %v", progress)
	}
}

func requireFailure(t *testing.T, err error, rec *recorder, kind Kind) *Failure {
	t.Helper()
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("error = %v, want *Failure", err)
	}
	if f.Kind != kind {
		t.Fatalf("Kind = %s, want %s (%v)", f.Kind, kind, err)
	}
	if len(rec.failures) != 1 || rec.success != 0 {
		t.Fatalf("reported failures=%d successes=%d, want exactly one failure", len(rec.failures), rec.success)
	}
	return f
}

func TestInstall_Download(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.paths.TargetArchive, []byte(hostArchive))
	desc := f.descriptor()
	rec := &recorder{}

	if err := f.o.Install(context.Background(), desc, Flags{}, rec); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	if rec.success != 1 || len(rec.failures) != 0 {
		t.Fatalf("success=%d failures=%v", rec.success, rec.failures)
	}
	assertMonotonic(t, rec.progress)
	if got := readFile(t, f.paths.TargetArchive); !bytes.Equal(got, modArchive) {
		t.Errorf("target = %q", got)
	}
	if got := string(readFile(t, f.paths.BackupArchive)); got != hostArchive {
		t.Errorf("backup = %q, want host archive", got)
	}
	if got := string(readFile(t, f.paths.VersionMarker)); got != "5.30.0" {
		t.Errorf("version marker = %q", got)
	}
	if got := readFile(t, f.o.Cache.PathFor(desc.Checksum, ".asar")); !bytes.Equal(got, modArchive) {
		t.Error("installed archive should be cached under its checksum")
	}

	mod := f.o.State.Mod()
	want := state.InstallState{Installed: true, Version: "2.1.0", HostAppVersion: "5.30.0", Name: "pulse", Checksum: desc.Checksum}
	if mod != want {
		t.Errorf("state = %+v, want %+v", mod, want)
	}
	if f.compat.calls != 1 {
		t.Errorf("compat calls = %d, want 1", f.compat.calls)
	}
	if f.host.closed != 1 || f.host.launched != 1 {
		t.Errorf("host closed=%d launched=%d, want 1 and 1", f.host.closed, f.host.launched)
	}
	if len(f.resigner.calls) != 1 {
		t.Errorf("resign calls = %d, want 1", len(f.resigner.calls))
	}
	entries, _ := os.ReadDir(f.o.TempDir)
	if len(entries) != 0 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

func TestInstall_MissingArchiveReinstallsHost(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}

	err := f.o.Install(context.Background(), f.descriptor(), Flags{}, rec)

	requireFailure(t, err, rec, KindFileNotFound)
	if f.reinstaller.calls != 1 {
		t.Errorf("reinstaller calls = %d, want 1", f.reinstaller.calls)
	}
	if f.hitCount() != 0 {
		t.Errorf("no download expected, got %d requests", f.hitCount())
	}
	if _, err := os.Stat(f.paths.TargetArchive); !os.IsNotExist(err) {
		t.Error("target archive should not be created")
	}
}

func TestInstall_AlreadyInstalled(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.paths.TargetArchive, modArchive)
	rec := &recorder{}

	if err := f.o.Install(context.Background(), f.descriptor(), Flags{}, rec); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	if rec.success != 1 {
		t.Fatalf("success = %d, want 1", rec.success)
	}
	if f.hitCount() != 0 {
		t.Errorf("download requests = %d, want 0", f.hitCount())
	}
	if len(f.resigner.calls) != 0 {
		t.Error("archive must not be rewritten")
	}
	if !f.o.State.Mod().Installed {
		t.Error("state should record the install")
	}
}

func TestInstall_PatchFailureRestoresBackup(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.paths.TargetArchive, []byte(hostArchive))
	f.resigner.err = errors.New("integrity resource missing")
	rec := &recorder{}

	err := f.o.Install(context.Background(), f.descriptor(), Flags{}, rec)

	requireFailure(t, err, rec, KindPatchError)
	if !bytes.Equal(readFile(t, f.paths.TargetArchive), readFile(t, f.paths.BackupArchive)) {
		t.Error("target archive should equal the backup byte for byte")
	}
	if f.o.State.Mod().Installed {
		t.Error("failed install must not be recorded")
	}
}

func TestInstall_UsesCache(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.paths.TargetArchive, []byte(hostArchive))
	desc := f.descriptor()
	writeFile(t, f.o.Cache.PathFor(desc.Checksum, ".asar"), modArchive)
	rec := &recorder{}

	if err := f.o.Install(context.Background(), desc, Flags{}, rec); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	if f.hitCount() != 0 {
		t.Errorf("download requests = %d, want 0", f.hitCount())
	}
	if got := readFile(t, f.paths.TargetArchive); !bytes.Equal(got, modArchive) {
		t.Errorf("target = %q", got)
	}
	if rec.success != 1 {
		t.Errorf("success = %d, want 1", rec.success)
	}
}

func TestInstall_CorruptCacheRedownloads(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.paths.TargetArchive, []byte(hostArchive))
	desc := f.descriptor()
	cached := f.o.Cache.PathFor(desc.Checksum, ".asar")
	writeFile(t, cached, []byte("bit rot"))

	if err := f.o.Install(context.Background(), desc, Flags{}, &recorder{}); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if f.hitCount() != 1 {
		t.Errorf("download requests = %d, want 1", f.hitCount())
	}
	if got := readFile(t, cached); !bytes.Equal(got, modArchive) {
		t.Error("cache entry should be replaced with verified bytes")
	}
}

func TestInstall_Compatibility(t *testing.T) {
	tests := []struct {
		name string
		res  *compat.Result
		err  error
		want Kind
	}{
		{
			name: "host_outdated",
			res:  &compat.Result{Code: compat.CodeHostOutdated, URL: "https://host.example/download", RequiredVersion: "5.31.0", RecommendedVersion: "2.1.0"},
			want: KindVersionOutdated,
		},
		{
			name: "host_too_new",
			res:  &compat.Result{Code: compat.CodeHostTooNew, Message: "wait for an update"},
			want: KindVersionTooNew,
		},
		{
			name: "unknown_code",
			res:  &compat.Result{Message: "rejected"},
			want: KindUnexpected,
		},
		{
			name: "service_unreachable",
			err:  errors.New("connection refused"),
			want: KindNetworkError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			writeFile(t, f.paths.TargetArchive, []byte(hostArchive))
			f.compat.res, f.compat.err = tt.res, tt.err
			rec := &recorder{}

			err := f.o.Install(context.Background(), f.descriptor(), Flags{}, rec)

			fail := requireFailure(t, err, rec, tt.want)
			if tt.want == KindVersionOutdated {
				if fail.Extra[ExtraURL] != tt.res.URL || fail.Extra[ExtraRequiredVersion] != "5.31.0" {
					t.Errorf("Extra = %v", fail.Extra)
				}
			}
			if f.host.closed != 0 {
				t.Error("host must not be closed when the mod is incompatible")
			}
			if _, err := os.Stat(f.paths.BackupArchive); !os.IsNotExist(err) {
				t.Error("no backup should be taken")
			}
			if got := string(readFile(t, f.paths.TargetArchive)); got != hostArchive {
				t.Errorf("target changed: %q", got)
			}
		})
	}
}

func TestInstall_ForceSkipsCompatibility(t *testing.T) {
	for _, flags := range []Flags{{Force: true}, {Spoof: true}} {
		f := newFixture(t)
		writeFile(t, f.paths.TargetArchive, []byte(hostArchive))
		f.compat.res = &compat.Result{Code: compat.CodeHostTooNew}

		if err := f.o.Install(context.Background(), f.descriptor(), flags, &recorder{}); err != nil {
			t.Fatalf("Install(%+v) error = %v", flags, err)
		}
		if f.compat.calls != 0 {
			t.Errorf("Install(%+v) compat calls = %d, want 0", flags, f.compat.calls)
		}
	}
}

func TestInstall_ChecksumMismatch(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.paths.TargetArchive, []byte(hostArchive))
	desc := f.descriptor()
	f.serve("/mod/app.asar", []byte("tampered bytes"))
	rec := &recorder{}

	err := f.o.Install(context.Background(), desc, Flags{}, rec)

	requireFailure(t, err, rec, KindChecksumMismatch)
	if got := string(readFile(t, f.paths.TargetArchive)); got != hostArchive {
		t.Errorf("target changed: %q", got)
	}
	if _, err := os.Stat(f.o.Cache.PathFor(desc.Checksum, ".asar")); !os.IsNotExist(err) {
		t.Error("bad bytes must not be cached")
	}
}

func TestInstall_NetworkError(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.paths.TargetArchive, []byte(hostArchive))
	desc := f.descriptor()
	desc.Link = f.srv.URL + "/missing.asar"
	rec := &recorder{}

	err := f.o.Install(context.Background(), desc, Flags{}, rec)

	requireFailure(t, err, rec, KindNetworkError)
	if got := string(readFile(t, f.paths.TargetArchive)); got != hostArchive {
		t.Errorf("target changed: %q", got)
	}
}

func TestInstall_CompressedLink(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.paths.TargetArchive, []byte(hostArchive))

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write(modArchive)
	zw.Close()

	desc := f.descriptor()
	desc.Link = f.serve("/mod/app.asar.gz", buf.Bytes())

	if err := f.o.Install(context.Background(), desc, Flags{}, &recorder{}); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if got := readFile(t, f.paths.TargetArchive); !bytes.Equal(got, modArchive) {
		t.Errorf("target = %q, want decompressed archive", got)
	}
}

type fakeVerifier struct{ err error }

func (v fakeVerifier) VerifyFile(string, []byte) error { return v.err }

func TestInstall_Signature(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"valid", nil, false},
		{"invalid", download.ErrBadSignature, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			writeFile(t, f.paths.TargetArchive, []byte(hostArchive))
			f.o.Verifier = fakeVerifier{err: tt.err}
			desc := f.descriptor()
			desc.SignatureLink = f.serve("/mod/app.asar.sig", []byte("signature"))
			rec := &recorder{}

			err := f.o.Install(context.Background(), desc, Flags{}, rec)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Install() error = %v", err)
				}
				return
			}
			requireFailure(t, err, rec, KindChecksumMismatch)
			if got := string(readFile(t, f.paths.TargetArchive)); got != hostArchive {
				t.Errorf("target changed: %q", got)
			}
		})
	}
}

func buildBundle(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestInstall_Unpacked(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.paths.TargetArchive, []byte(hostArchive))
	writeFile(t, filepath.Join(f.paths.UnpackedDir, "stale.node"), []byte("old"))

	bundle := buildBundle(t, map[string]string{
		"app.asar.unpacked/native.node":     "native module",
		"app.asar.unpacked/assets/icon.png": "icon",
	})
	desc := f.descriptor()
	desc.UnpackLink = f.serve("/mod/unpacked.zip", bundle)
	desc.UnpackedChecksum = download.SHA256Bytes(bundle)
	rec := &recorder{}

	if err := f.o.Install(context.Background(), desc, Flags{}, rec); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	assertMonotonic(t, rec.progress)
	if got := string(readFile(t, filepath.Join(f.paths.UnpackedDir, "native.node"))); got != "native module" {
		t.Errorf("native.node = %q", got)
	}
	if got := string(readFile(t, filepath.Join(f.paths.UnpackedDir, "assets", "icon.png"))); got != "icon" {
		t.Errorf("icon.png = %q", got)
	}
	if _, err := os.Stat(filepath.Join(f.paths.UnpackedDir, "stale.node")); !os.IsNotExist(err) {
		t.Error("old unpacked files should be replaced")
	}
	if got := readMarker(f.paths.UnpackedDir); got != desc.UnpackedChecksum {
		t.Errorf("marker = %q, want %q", got, desc.UnpackedChecksum)
	}
	if got := f.o.State.Mod().UnpackedChecksum; got != desc.UnpackedChecksum {
		t.Errorf("state unpacked checksum = %q", got)
	}
	entries, _ := os.ReadDir(f.o.TempDir)
	if len(entries) != 0 {
		t.Errorf("temporary files left behind: %v", entries)
	}

	before := f.hitCount()
	if err := f.o.Install(context.Background(), desc, Flags{}, &recorder{}); err != nil {
		t.Fatalf("second Install() error = %v", err)
	}
	if f.hitCount() != before {
		t.Errorf("reinstalling the same descriptor made %d requests", f.hitCount()-before)
	}
}

func TestInstall_UnpackedFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.paths.TargetArchive, []byte(hostArchive))

	notZip := []byte("definitely not a zip archive")
	desc := f.descriptor()
	desc.UnpackLink = f.serve("/mod/unpacked.zip", notZip)
	desc.UnpackedChecksum = download.SHA256Bytes(notZip)
	rec := &recorder{}

	err := f.o.Install(context.Background(), desc, Flags{}, rec)

	requireFailure(t, err, rec, KindPatchError)
	if got := string(readFile(t, f.paths.TargetArchive)); got != hostArchive {
		t.Errorf("target = %q, want rollback to the backup", got)
	}
	if f.o.State.Mod().Installed {
		t.Error("failed install must not be recorded")
	}
}

func TestInstall_InvalidDescriptor(t *testing.T) {
	f := newFixture(t)
	desc := f.descriptor()
	desc.Link = "ftp://example.com/app.asar"
	rec := &recorder{}

	err := f.o.Install(context.Background(), desc, Flags{}, rec)

	requireFailure(t, err, rec, KindInvalidPath)
	if f.host.closed != 0 || f.compat.calls != 0 {
		t.Error("nothing should run for an invalid descriptor")
	}
}

func TestInstall_ReinstallRedirect(t *testing.T) {
	f := newFixture(t)
	f.o.Platform = &platform.Info{OS: "windows", Arch: "amd64"}
	rec := &recorder{}

	if err := f.o.Install(context.Background(), f.descriptor(), Flags{ShouldReinstall: true}, rec); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if f.reinstaller.calls != 1 {
		t.Errorf("reinstaller calls = %d, want 1", f.reinstaller.calls)
	}
	if !f.o.State.GetBool(state.KeyHostReinstalled) {
		t.Error("reinstall should be recorded")
	}
	if f.hitCount() != 0 {
		t.Error("no download expected")
	}
}

func TestInstall_LinuxSavePathOverride(t *testing.T) {
	f := newFixture(t)
	custom := filepath.Join(t.TempDir(), "custom", "app.asar")
	writeFile(t, custom, []byte(hostArchive))
	if err := f.o.State.Set(state.KeyModSavePath, custom); err != nil {
		t.Fatal(err)
	}

	if err := f.o.Install(context.Background(), f.descriptor(), Flags{}, &recorder{}); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if got := readFile(t, custom); !bytes.Equal(got, modArchive) {
		t.Errorf("custom target = %q", got)
	}
	if got := string(readFile(t, hostapp.BackupPathFor(custom))); got != hostArchive {
		t.Errorf("backup = %q", got)
	}
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.paths.TargetArchive, []byte(hostArchive))
	if err := f.o.Install(context.Background(), f.descriptor(), Flags{}, &recorder{}); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	f.resigner.calls = nil
	f.host.running = true
	rec := &recorder{}

	if err := f.o.Remove(context.Background(), rec); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	if rec.success != 1 {
		t.Fatalf("success = %d", rec.success)
	}
	if got := string(readFile(t, f.paths.TargetArchive)); got != hostArchive {
		t.Errorf("target = %q, want host archive", got)
	}
	for _, gone := range []string{f.paths.BackupArchive, f.paths.VersionMarker} {
		if _, err := os.Stat(gone); !os.IsNotExist(err) {
			t.Errorf("%s should be removed", filepath.Base(gone))
		}
	}
	if len(f.resigner.calls) != 1 {
		t.Errorf("resign calls = %d, want 1", len(f.resigner.calls))
	}
	mod := f.o.State.Mod()
	if mod.Installed || mod.Checksum != "" || mod.Version != "" {
		t.Errorf("state not cleared: %+v", mod)
	}
	if f.host.launched != 2 {
		t.Errorf("host launched %d times, want 2", f.host.launched)
	}
}

func TestRemove_ResignFailureClearsState(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.paths.TargetArchive, []byte(hostArchive))
	if err := f.o.Install(context.Background(), f.descriptor(), Flags{}, &recorder{}); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	f.resigner.err = errors.New("codesign refused")
	rec := &recorder{}

	err := f.o.Remove(context.Background(), rec)

	failure := requireFailure(t, err, rec, KindUnexpected)
	if got := failure.Extra[ExtraPhase]; got != PhaseResigning.String() {
		t.Errorf("phase = %q, want %q", got, PhaseResigning)
	}
	if got := string(readFile(t, f.paths.TargetArchive)); got != hostArchive {
		t.Errorf("target = %q, want host archive", got)
	}
	mod := f.o.State.Mod()
	if mod.Installed || mod.Checksum != "" {
		t.Errorf("state must not describe a mod that is no longer on disk: %+v", mod)
	}
	if _, err := os.Stat(f.paths.VersionMarker); !os.IsNotExist(err) {
		t.Error("version marker should be removed")
	}
}

func TestRemove_NoBackupReinstalls(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.paths.TargetArchive, modArchive)
	rec := &recorder{}

	if err := f.o.Remove(context.Background(), rec); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if f.reinstaller.calls != 1 {
		t.Errorf("reinstaller calls = %d, want 1", f.reinstaller.calls)
	}
	if rec.success != 1 {
		t.Errorf("success = %d, want 1", rec.success)
	}
}

func TestClearCache(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.o.Cache.PathFor("abc", ".asar"), []byte("x"))
	rec := &recorder{}

	if err := f.o.ClearCache(rec); err != nil {
		t.Fatalf("ClearCache() error = %v", err)
	}
	if _, err := os.Stat(f.o.Cache.Dir()); !os.IsNotExist(err) {
		t.Error("cache dir should be removed")
	}
	if rec.success != 1 {
		t.Errorf("success = %d", rec.success)
	}
}

func TestClearCacheOnVersionChange(t *testing.T) {
	f := newFixture(t)
	entry := f.o.Cache.PathFor("abc", ".asar")
	writeFile(t, entry, []byte("x"))

	cleared, err := f.o.ClearCacheOnVersionChange("1.0.0")
	if err != nil || !cleared {
		t.Fatalf("first run: cleared=%v err=%v, want true", cleared, err)
	}
	if got := f.o.State.GetString(state.KeyAppVersion); got != "1.0.0" {
		t.Errorf("app.version = %q", got)
	}

	writeFile(t, entry, []byte("x"))
	cleared, err = f.o.ClearCacheOnVersionChange("1.0.0")
	if err != nil || cleared {
		t.Fatalf("same version: cleared=%v err=%v, want false", cleared, err)
	}
	if _, err := os.Stat(entry); err != nil {
		t.Error("cache must survive when the version is unchanged")
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.paths.TargetArchive, []byte(hostArchive))
	if err := f.o.Install(context.Background(), f.descriptor(), Flags{}, &recorder{}); err != nil {
		t.Fatal(err)
	}

	st, err := f.o.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !st.Mod.Installed || !st.BackupPresent {
		t.Errorf("Status = %+v", st)
	}
	if st.ArchiveChecksum != download.SHA256Bytes(modArchive) {
		t.Errorf("ArchiveChecksum = %s", st.ArchiveChecksum)
	}
	if st.HostVersion != "5.30.0" {
		t.Errorf("HostVersion = %q", st.HostVersion)
	}
}
