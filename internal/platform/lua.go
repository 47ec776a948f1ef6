package platform

import (
	lua "github.com/yuin/gopher-lua"
)

// InjectPlatformTable publishes info to Lua as the read-only global
// "platform". Configs use it to pick host paths:
//
//	executable = platform.select{
//	    windows = paths.join(paths.env("LOCALAPPDATA"), "Programs", "Host", "Host" .. platform.exe_suffix),
//	    darwin  = "/Applications/Host.app",
//	    linux   = "/opt/host/host",
//	}
func InjectPlatformTable(L *lua.LState, info *Info) error {
	t := L.NewTable()

	L.SetField(t, "os", lua.LString(info.OS))
	L.SetField(t, "arch", lua.LString(info.Arch))
	L.SetField(t, "arch_raw", lua.LString(info.ArchRaw))
	L.SetField(t, "os_version", lua.LString(info.Version))
	L.SetField(t, "is_linux", lua.LBool(info.IsLinux()))
	L.SetField(t, "is_macos", lua.LBool(info.IsMacOS()))
	L.SetField(t, "is_windows", lua.LBool(info.IsWindows()))
	L.SetField(t, "mandatory_locking", lua.LBool(info.MandatoryLocking()))

	suffix := ""
	if info.IsWindows() {
		suffix = ".exe"
	}
	L.SetField(t, "exe_suffix", lua.LString(suffix))

	distro := lua.LValue(lua.LNil)
	if info.IsLinux() && info.Platform != "" {
		d := L.NewTable()
		L.SetField(d, "id", lua.LString(info.Platform))
		L.SetField(d, "family", lua.LString(info.Family))
		L.SetField(d, "version", lua.LString(info.Version))
		distro = d
	}
	L.SetField(t, "distro", distro)

	// when(cond, value) yields value or nil; nil fields keep their default.
	L.SetField(t, "when", L.NewFunction(func(L *lua.LState) int {
		if L.CheckBool(1) {
			L.Push(L.Get(2))
		} else {
			L.Push(lua.LNil)
		}
		return 1
	}))

	// select{windows=..., darwin=..., linux=...} yields the entry for the
	// current OS, or nil.
	L.SetField(t, "select", L.NewFunction(func(L *lua.LState) int {
		choices := L.CheckTable(1)
		L.Push(choices.RawGetString(info.OS))
		return 1
	}))

	L.SetGlobal("platform", makeReadOnly(L, t))
	return nil
}

// makeReadOnly wraps table in an empty proxy whose metatable serves reads
// from table and raises on every write.
func makeReadOnly(L *lua.LState, table *lua.LTable) *lua.LTable {
	mt := L.NewTable()
	L.SetField(mt, "__index", table)
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("platform table is read-only and cannot be modified")
		return 0
	}))
	L.SetField(mt, "__metatable", lua.LString("protected"))

	proxy := L.NewTable()
	L.SetMetatable(proxy, mt)
	return proxy
}
