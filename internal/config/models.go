package config

import (
	"fmt"
	"time"
)

// CurrentVersion is the config file schema version.
const CurrentVersion = 1

// Config represents the entire user configuration file.
type Config struct {
	Version   int              `yaml:"version"`
	Link      *LinkConfig      `yaml:"link"`
	Robots    map[uint8]*Robot `yaml:"robots,omitempty"` // Keyed by robot id
	Capture   *CaptureConfig   `yaml:"capture,omitempty"`
	Bridge    *BridgeConfig    `yaml:"bridge,omitempty"`
	Relay     *RelayConfig     `yaml:"relay,omitempty"`
	Pilot     *PilotConfig     `yaml:"pilot,omitempty"`
	Heartbeat *HeartbeatConfig `yaml:"heartbeat,omitempty"`
}

// LinkConfig describes the byte link to the link controller or relay.
type LinkConfig struct {
	Transport   string        `yaml:"transport"`         // "serial" or "tcp"
	Port        string        `yaml:"port,omitempty"`    // Serial device; empty = auto-detect
	Baud        int           `yaml:"baud,omitempty"`    // Serial baud rate
	Address     string        `yaml:"address,omitempty"` // host:port for tcp
	ReadTimeout time.Duration `yaml:"read_timeout"`      // 0 = block forever
	MaxHunt     int           `yaml:"max_hunt"`          // Noise bytes scanned before giving up on sync
}

// Robot represents user-defined metadata for one robot id.
type Robot struct {
	Nickname string    `yaml:"nickname,omitempty"`
	LastSeen time.Time `yaml:"last_seen,omitempty"`
}

// CaptureConfig controls JSONL envelope capture.
type CaptureConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir,omitempty"` // Empty = <config dir>/captures
}

// BridgeConfig controls the WebSocket live feed.
type BridgeConfig struct {
	Listen string `yaml:"listen"`
}

// RelayConfig controls the TCP robot relay.
type RelayConfig struct {
	Listen    string `yaml:"listen"`
	MaxRobots int    `yaml:"max_robots"`
	Advertise bool   `yaml:"advertise"` // Publish the relay over mDNS
	Name      string `yaml:"name,omitempty"`
}

// PilotConfig controls the periodic velocity command sender.
type PilotConfig struct {
	Period  time.Duration `yaml:"period"`
	VXScale float32       `yaml:"vx_scale"`
	WZScale float32       `yaml:"wz_scale"`
}

// HeartbeatConfig controls the periodic timesync sender.
type HeartbeatConfig struct {
	Period time.Duration `yaml:"period"` // 0 disables the heartbeat
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Link: &LinkConfig{
			Transport:   "serial",
			Baud:        921600,
			ReadTimeout: 100 * time.Millisecond,
			MaxHunt:     64 * 1024,
		},
		Robots:  make(map[uint8]*Robot),
		Capture: &CaptureConfig{},
		Bridge:  &BridgeConfig{Listen: "127.0.0.1:8765"},
		Relay: &RelayConfig{
			Listen:    ":5005",
			MaxRobots: 8,
			Name:      "mbotlink relay",
		},
		Pilot: &PilotConfig{
			Period:  100 * time.Millisecond,
			VXScale: 0.3,
			WZScale: 1.5,
		},
		Heartbeat: &HeartbeatConfig{Period: 500 * time.Millisecond},
	}
}

// fillDefaults sets any section missing from a loaded file.
func (c *Config) fillDefaults() {
	d := Default()
	if c.Link == nil {
		c.Link = d.Link
	}
	if c.Robots == nil {
		c.Robots = d.Robots
	}
	if c.Capture == nil {
		c.Capture = d.Capture
	}
	if c.Bridge == nil {
		c.Bridge = d.Bridge
	}
	if c.Relay == nil {
		c.Relay = d.Relay
	}
	if c.Pilot == nil {
		c.Pilot = d.Pilot
	}
	if c.Heartbeat == nil {
		c.Heartbeat = d.Heartbeat
	}
}

// Validate checks the configuration for values the link cannot run with.
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version: %d (expected %d)", c.Version, CurrentVersion)
	}
	if c.Link == nil {
		return fmt.Errorf("link section is missing")
	}
	switch c.Link.Transport {
	case "serial":
		if c.Link.Baud < 0 {
			return fmt.Errorf("link.baud must be positive, got %d", c.Link.Baud)
		}
	case "tcp":
		if c.Link.Address == "" {
			return fmt.Errorf("link.address is required for tcp transport")
		}
	default:
		return fmt.Errorf("link.transport must be serial or tcp, got %q", c.Link.Transport)
	}
	if c.Link.ReadTimeout < 0 {
		return fmt.Errorf("link.read_timeout must not be negative")
	}
	if c.Link.MaxHunt < 0 {
		return fmt.Errorf("link.max_hunt must not be negative")
	}
	if c.Relay != nil && (c.Relay.MaxRobots < 1 || c.Relay.MaxRobots > 256) {
		return fmt.Errorf("relay.max_robots must be between 1 and 256, got %d", c.Relay.MaxRobots)
	}
	if c.Pilot != nil && c.Pilot.Period <= 0 {
		return fmt.Errorf("pilot.period must be positive")
	}
	if c.Heartbeat != nil && c.Heartbeat.Period < 0 {
		return fmt.Errorf("heartbeat.period must not be negative")
	}
	return nil
}

// EnsureRobot returns the entry for id, creating it if needed.
func (c *Config) EnsureRobot(id uint8) *Robot {
	if c.Robots == nil {
		c.Robots = make(map[uint8]*Robot)
	}
	if robot, ok := c.Robots[id]; ok {
		return robot
	}
	robot := &Robot{}
	c.Robots[id] = robot
	return robot
}

// TouchRobot records that id was just heard from.
func (c *Config) TouchRobot(id uint8) {
	c.EnsureRobot(id).LastSeen = time.Now()
}

// RobotName returns the nickname for id, or "robot <id>".
func (c *Config) RobotName(id uint8) string {
	if robot, ok := c.Robots[id]; ok && robot.Nickname != "" {
		return robot.Nickname
	}
	return fmt.Sprintf("robot %d", id)
}
