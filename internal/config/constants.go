package config

// Lua schema field names and globals
const (
	luaGlobalModpatch   = "modpatch"
	luaGlobalPaths      = "paths"
	luaFieldServerURL   = "server_url"
	luaFieldUserAgent   = "user_agent"
	luaFieldCacheDir    = "cache_dir"
	luaFieldTempDir     = "temp_dir"
	luaFieldStateFile   = "state_file"
	luaFieldLogLevel    = "log_level"
	luaFieldLogFile     = "log_file"
	luaFieldKeyring     = "keyring"
	luaFieldScheme      = "deeplink_scheme"
	luaFieldHost        = "host"
	luaFieldResourceDir = "resource_dir"
	luaFieldArchiveName = "archive_name"
	luaFieldExecutable  = "executable"
	luaFieldProcessName = "process_name"
	luaFieldBundlePath  = "bundle_path"
	luaFieldManifest    = "manifest_path"
	luaFieldIntegrity   = "integrity_key"
	luaFieldInstaller   = "installer_url"
)

// DefaultFileName is the configuration file looked up in the config dir.
const DefaultFileName = "modpatch.lua"
