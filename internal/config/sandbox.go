package config

import (
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
)

// sandboxLuaVM removes everything that could execute commands, touch the
// filesystem, or load external code. string, table and math stay available.
func sandboxLuaVM(L *lua.LState) {
	L.SetGlobal("os", lua.LNil)
	L.SetGlobal("io", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("debug", lua.LNil)
}

// newSandboxedVM creates a new Lua VM with sandboxing applied.
func newSandboxedVM() *lua.LState {
	L := lua.NewState()
	sandboxLuaVM(L)
	return L
}

// injectPaths exposes read-only path helpers replacing what the sandbox
// took away: paths.home, paths.env(name) and paths.join(...).
func injectPaths(L *lua.LState, d dirs) {
	t := L.NewTable()
	L.SetField(t, "home", lua.LString(d.home))
	L.SetField(t, "config_dir", lua.LString(d.config))
	L.SetField(t, "cache_dir", lua.LString(d.cache))
	L.SetField(t, "temp_dir", lua.LString(d.temp))
	L.SetField(t, "env", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(os.Getenv(L.CheckString(1))))
		return 1
	}))
	L.SetField(t, "join", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.CheckString(i))
		}
		L.Push(lua.LString(filepath.Join(parts...)))
		return 1
	}))
	L.SetGlobal(luaGlobalPaths, t)
}
