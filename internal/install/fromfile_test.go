package install

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/state"
)

func TestParseDeepLink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX paths")
	}
	tests := []struct {
		name    string
		link    string
		want    string
		wantErr bool
	}{
		{"host_action", "modpatch://patch/from_mod/tmp/mods/app.asar", "/tmp/mods/app.asar", false},
		{"path_action", "modpatch://open/patch/from_mod/tmp/app.asar", "/tmp/app.asar", false},
		{"dashes_and_case", "modpatch://Patch/From-Mod/tmp/app.asar", "/tmp/app.asar", false},
		{"encoded_path", "modpatch://patch/from_mod/%2Fhome%2Fu%2FMy%20Mods%2Fapp.asar", "/home/u/My Mods/app.asar", false},
		{"quoted", `"modpatch://patch/from_mod/tmp/app.asar"`, "/tmp/app.asar", false},
		{"file_url_payload", "modpatch://patch/from_mod/file:///tmp/app.asar", "/tmp/app.asar", false},
		{"wrong_scheme", "other://patch/from_mod/tmp/app.asar", "", true},
		{"wrong_action", "modpatch://open/from_mod/tmp/app.asar", "", true},
		{"wrong_type", "modpatch://patch/from_url/tmp/app.asar", "", true},
		{"not_asar", "modpatch://patch/from_mod/tmp/app.zip", "", true},
		{"no_path", "modpatch://patch/from_mod", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDeepLink("modpatch", tt.link)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDeepLink() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDeepLink() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestArchivePath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX paths")
	}
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"plain", "/tmp/app.asar", "/tmp/app.asar", false},
		{"upper_ext", "/tmp/APP.ASAR", "/tmp/APP.ASAR", false},
		{"file_url", "file:///tmp/My%20Mod/app.asar", "/tmp/My Mod/app.asar", false},
		{"single_quoted", "'/tmp/app.asar'", "/tmp/app.asar", false},
		{"unclean", "/tmp/x/../app.asar", "/tmp/app.asar", false},
		{"wrong_ext", "/tmp/app.zip", "", true},
		{"empty", "  ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ArchivePath(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ArchivePath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ArchivePath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInstallFromFile(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.paths.TargetArchive, []byte(hostArchive))
	if err := f.o.State.SaveMod(state.InstallState{Installed: true, Version: "2.0.0", Name: "pulse", Checksum: "old"}); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(t.TempDir(), "local mod.asar")
	writeFile(t, src, modArchive)
	rec := &recorder{}

	if err := f.o.InstallFromFile(context.Background(), src, rec); err != nil {
		t.Fatalf("InstallFromFile() error = %v", err)
	}

	if got := readFile(t, f.paths.TargetArchive); !bytes.Equal(got, modArchive) {
		t.Errorf("target = %q", got)
	}
	if got := string(readFile(t, f.paths.BackupArchive)); got != hostArchive {
		t.Errorf("backup = %q", got)
	}
	mod := f.o.State.Mod()
	if !mod.Installed || mod.Version != "2.0.0" || mod.Name != "pulse" {
		t.Errorf("previous mod metadata should be kept: %+v", mod)
	}
	if mod.Checksum == "old" || mod.Checksum == "" {
		t.Errorf("checksum not refreshed: %q", mod.Checksum)
	}
	if rec.success != 1 || f.host.launched != 1 {
		t.Errorf("success=%d launched=%d", rec.success, f.host.launched)
	}
}

func TestInstallFromFile_Rejected(t *testing.T) {
	tests := []struct {
		name string
		raw  func(dir string) string
		want Kind
	}{
		{"not_asar", func(dir string) string {
			p := filepath.Join(dir, "mod.zip")
			os.WriteFile(p, modArchive, 0644)
			return p
		}, KindInvalidPath},
		{"missing", func(dir string) string { return filepath.Join(dir, "missing.asar") }, KindFileNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			writeFile(t, f.paths.TargetArchive, []byte(hostArchive))
			rec := &recorder{}

			err := f.o.InstallFromFile(context.Background(), tt.raw(t.TempDir()), rec)

			requireFailure(t, err, rec, tt.want)
			if f.host.closed != 0 {
				t.Error("host must not be closed for rejected input")
			}
			if got := string(readFile(t, f.paths.TargetArchive)); got != hostArchive {
				t.Errorf("target changed: %q", got)
			}
		})
	}
}
