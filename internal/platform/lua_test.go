package platform

import (
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestInjectPlatformTable_Linux(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	info := &Info{
		OS:       OSLinux,
		Arch:     "amd64",
		ArchRaw:  "amd64",
		Platform: "ubuntu",
		Family:   FamilyDebian,
		Version:  "24.04",
	}
	if err := InjectPlatformTable(L, info); err != nil {
		t.Fatalf("InjectPlatformTable() error = %v", err)
	}

	tests := []struct {
		name string
		code string
		want lua.LValue
	}{
		{"os", `return platform.os`, lua.LString("linux")},
		{"arch", `return platform.arch`, lua.LString("amd64")},
		{"os_version", `return platform.os_version`, lua.LString("24.04")},
		{"is_linux", `return platform.is_linux`, lua.LTrue},
		{"is_macos", `return platform.is_macos`, lua.LFalse},
		{"is_windows", `return platform.is_windows`, lua.LFalse},
		{"distro.id", `return platform.distro.id`, lua.LString("ubuntu")},
		{"distro.family", `return platform.distro.family`, lua.LString("debian")},
		{"when_true", `return platform.when(true, "x")`, lua.LString("x")},
		{"when_false", `return platform.when(false, "x")`, lua.LNil},
		{"exe_suffix", `return platform.exe_suffix`, lua.LString("")},
		{"mandatory_locking", `return platform.mandatory_locking`, lua.LFalse},
		{"select_hit", `return platform.select{linux = "/opt/host", windows = "C:/host"}`, lua.LString("/opt/host")},
		{"select_miss", `return platform.select{darwin = "/Applications/Host.app"}`, lua.LNil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := L.DoString(tt.code); err != nil {
				t.Fatalf("DoString(%q) error = %v", tt.code, err)
			}
			got := L.Get(-1)
			L.Pop(1)
			if got.Type() != tt.want.Type() || got.String() != tt.want.String() {
				t.Errorf("%s = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestInjectPlatformTable_WindowsHasNoDistro(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	if err := InjectPlatformTable(L, &Info{OS: OSWindows, Arch: "amd64"}); err != nil {
		t.Fatalf("InjectPlatformTable() error = %v", err)
	}
	code := `assert(platform.distro == nil)
assert(platform.is_windows)
assert(platform.exe_suffix == ".exe")
assert(platform.mandatory_locking)`
	if err := L.DoString(code); err != nil {
		t.Fatalf("unexpected platform table: %v", err)
	}
}

func TestInjectPlatformTable_ReadOnly(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	if err := InjectPlatformTable(L, &Info{OS: OSDarwin, Arch: "arm64"}); err != nil {
		t.Fatalf("InjectPlatformTable() error = %v", err)
	}

	err := L.DoString(`platform.os = "linux"`)
	if err == nil {
		t.Fatal("expected write to platform table to fail")
	}
	if !strings.Contains(err.Error(), "read-only") {
		t.Errorf("error = %v, want read-only message", err)
	}
}
