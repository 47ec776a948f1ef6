package config

import (
	"context"
	"testing"
)

func FuzzParser_ParseString(f *testing.F) {
	f.Add(`modpatch = { server_url = "https://mods.example.net" }`)
	f.Add(`modpatch = { host = { archive_name = "app.asar" } }`)
	f.Add(`modpatch = { host = 1 }`)

	parser := NewParser(nil)

	f.Fuzz(func(t *testing.T, luaCode string) {
		_, _ = parser.ParseString(context.Background(), luaCode)
	})
}
