package config

import (
	"os"
	"path/filepath"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/platform"
)

// DefaultServerURL is the compatibility service used when none is configured.
const DefaultServerURL = "https://api.pulsesync.dev"

// DefaultUserAgent is sent with every HTTP request unless overridden.
const DefaultUserAgent = "modpatch/1.0"

// dirs collects the per-user base directories defaults are derived from.
type dirs struct {
	home         string
	config       string
	cache        string
	temp         string
	localAppData string
}

func userDirs() dirs {
	d := dirs{temp: os.TempDir(), localAppData: os.Getenv("LOCALAPPDATA")}
	d.home, _ = os.UserHomeDir()
	d.config, _ = os.UserConfigDir()
	d.cache, _ = os.UserCacheDir()
	if d.config == "" {
		d.config = filepath.Join(d.home, ".config")
	}
	if d.cache == "" {
		d.cache = filepath.Join(d.home, ".cache")
	}
	return d
}

// Default returns the configuration used when no config file exists.
func Default(info *platform.Info) *Config {
	return defaultsFor(info, userDirs())
}

// Dir returns the directory modpatch.lua is looked up in.
func Dir() string {
	return filepath.Join(userDirs().config, "modpatch")
}

func defaultsFor(info *platform.Info, d dirs) *Config {
	cfg := &Config{
		ServerURL:      DefaultServerURL,
		UserAgent:      DefaultUserAgent,
		CacheDir:       filepath.Join(d.cache, "modpatch", "mods"),
		TempDir:        filepath.Join(d.temp, "modpatch"),
		StateFile:      filepath.Join(d.config, "modpatch", "state.json"),
		LogLevel:       "info",
		DeeplinkScheme: "modpatch",
		Host:           defaultHost(info, d),
	}
	return cfg
}

func defaultHost(info *platform.Info, d dirs) Host {
	switch {
	case info != nil && info.IsWindows():
		installDir := filepath.Join(d.localAppData, "Programs", "YandexMusic")
		return Host{
			ResourceDir:  filepath.Join(installDir, "resources"),
			ArchiveName:  "app.asar",
			Executable:   filepath.Join(installDir, "Яндекс Музыка.exe"),
			ProcessName:  "Яндекс Музыка.exe",
			IntegrityKey: `resources\app.asar`,
		}
	case info != nil && info.IsMacOS():
		bundle := filepath.Join("/Applications", "Yandex Music.app")
		return Host{
			ResourceDir:  filepath.Join(bundle, "Contents", "Resources"),
			ArchiveName:  "app.asar",
			Executable:   bundle,
			ProcessName:  "Yandex Music",
			BundlePath:   bundle,
			ManifestPath: filepath.Join(bundle, "Contents", "Info.plist"),
			IntegrityKey: "Resources/app.asar",
		}
	default:
		installDir := filepath.Join("/opt", "Yandex Music")
		return Host{
			ResourceDir: filepath.Join(installDir, "resources"),
			ArchiveName: "app.asar",
			Executable:  filepath.Join(installDir, "yandexmusic"),
			ProcessName: "yandexmusic",
		}
	}
}
