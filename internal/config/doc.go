// Package config provides user configuration management for mbotlink.
//
// The configuration is a YAML file holding the link settings (serial or TCP),
// robot nicknames, and defaults for the pilot, heartbeat, relay, bridge and
// capture features. Command-line flags override whatever the file says.
//
// # Configuration File Location
//
//   - Linux: $XDG_CONFIG_HOME/mbotlink/config.yaml or $HOME/.config/mbotlink/config.yaml
//   - macOS: $HOME/.config/mbotlink/config.yaml
//   - Windows: %LOCALAPPDATA%\mbotlink\config.yaml
//
// # Usage Example
//
//	cfg, err := config.LoadDefault()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.EnsureRobot(1).Nickname = "kitchen bot"
//	path, _ := config.GetConfigPath()
//	if err := cfg.Save(path); err != nil {
//	    log.Fatal(err)
//	}
//
// # Thread Safety
//
// Save is serialised by a package mutex and writes atomically (tmp + rename).
// A *Config itself is not safe for concurrent mutation.
package config
