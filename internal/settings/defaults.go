package settings

import "github.com/spf13/viper"

// SetDefaults configures default values for all settings.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("scratch", ".kiln")
	v.SetDefault("workers", 4)
	v.SetDefault("max_parallel", 2) // engine slots, not CPU threads
	v.SetDefault("status_addr", "")

	v.SetDefault("engine.mode", "local")
	v.SetDefault("engine.command", "")
	v.SetDefault("engine.namespace", "/kiln")
	v.SetDefault("engine.timeout_seconds", 3600)
	v.SetDefault("engine.insecure_skip_verify", false)
}
