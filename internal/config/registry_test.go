package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestGetConfigDir(t *testing.T) {
	if runtime.GOOS != "windows" && runtime.GOOS != "darwin" {
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-test")
		dir, err := GetConfigDir()
		if err != nil {
			t.Fatalf("GetConfigDir() error = %v", err)
		}
		if dir != filepath.Join("/tmp/xdg-test", "mbotlink") {
			t.Errorf("GetConfigDir() = %v, want XDG-based path", dir)
		}
		return
	}

	dir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if !strings.Contains(dir, "mbotlink") {
		t.Errorf("GetConfigDir() = %v, should contain 'mbotlink'", dir)
	}
}

func TestGetConfigPath(t *testing.T) {
	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if filepath.Base(configPath) != "config.yaml" {
		t.Errorf("GetConfigPath() should end with 'config.yaml', got: %v", configPath)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Version != 1 {
		t.Errorf("Default().Version = %v, want 1", cfg.Version)
	}
	if cfg.Link.Transport != "serial" {
		t.Errorf("Default().Link.Transport = %q, want serial", cfg.Link.Transport)
	}
	if cfg.Link.MaxHunt != 64*1024 {
		t.Errorf("Default().Link.MaxHunt = %d, want 65536", cfg.Link.MaxHunt)
	}
	if cfg.Robots == nil {
		t.Error("Default().Robots should not be nil")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"default is valid", func(*Config) {}, ""},
		{"bad version", func(c *Config) { c.Version = 2 }, "unsupported config version"},
		{"unknown transport", func(c *Config) { c.Link.Transport = "usb" }, "serial or tcp"},
		{"tcp needs address", func(c *Config) { c.Link.Transport = "tcp" }, "link.address"},
		{"tcp with address", func(c *Config) {
			c.Link.Transport = "tcp"
			c.Link.Address = "relay.local:5005"
		}, ""},
		{"negative timeout", func(c *Config) { c.Link.ReadTimeout = -time.Second }, "read_timeout"},
		{"zero robots", func(c *Config) { c.Relay.MaxRobots = 0 }, "max_robots"},
		{"zero pilot period", func(c *Config) { c.Pilot.Period = 0 }, "pilot.period"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRobots(t *testing.T) {
	cfg := Default()

	first := cfg.EnsureRobot(3)
	if first != cfg.EnsureRobot(3) {
		t.Error("EnsureRobot() should return same instance for same id")
	}

	if got := cfg.RobotName(3); got != "robot 3" {
		t.Errorf("RobotName(3) = %q, want 'robot 3'", got)
	}
	first.Nickname = "kitchen bot"
	if got := cfg.RobotName(3); got != "kitchen bot" {
		t.Errorf("RobotName(3) = %q, want 'kitchen bot'", got)
	}

	before := time.Now()
	cfg.TouchRobot(4)
	if cfg.Robots[4].LastSeen.Before(before) {
		t.Error("TouchRobot() did not update LastSeen")
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Link.Transport = "tcp"
	cfg.Link.Address = "10.0.0.5:5005"
	cfg.Link.ReadTimeout = 250 * time.Millisecond
	cfg.EnsureRobot(1).Nickname = "Scout"
	cfg.Pilot.VXScale = 0.5

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind after Save()")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.HasPrefix(string(data), "# mbotlink configuration file") {
		t.Error("saved file is missing the header comment")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Link.Address != "10.0.0.5:5005" || loaded.Link.Transport != "tcp" {
		t.Errorf("loaded link = %+v", loaded.Link)
	}
	if loaded.Link.ReadTimeout != 250*time.Millisecond {
		t.Errorf("loaded ReadTimeout = %v, want 250ms", loaded.Link.ReadTimeout)
	}
	if loaded.RobotName(1) != "Scout" {
		t.Errorf("loaded RobotName(1) = %q, want Scout", loaded.RobotName(1))
	}
	if loaded.Pilot.VXScale != 0.5 {
		t.Errorf("loaded VXScale = %v, want 0.5", loaded.Pilot.VXScale)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file gives defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(dir, "absent.yaml"))
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Link.Transport != "serial" {
			t.Errorf("Transport = %q, want serial", cfg.Link.Transport)
		}
	})

	t.Run("partial file filled with defaults", func(t *testing.T) {
		path := filepath.Join(dir, "partial.yaml")
		content := "version: 1\nlink:\n  transport: serial\n  port: /dev/ttyACM0\n  read_timeout: 2s\n"
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Link.Port != "/dev/ttyACM0" || cfg.Link.ReadTimeout != 2*time.Second {
			t.Errorf("link = %+v", cfg.Link)
		}
		if cfg.Pilot == nil || cfg.Relay == nil || cfg.Bridge == nil {
			t.Error("missing sections were not filled with defaults")
		}
	})

	t.Run("unsupported version", func(t *testing.T) {
		path := filepath.Join(dir, "v9.yaml")
		if err := os.WriteFile(path, []byte("version: 9\n"), 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Error("Load() error = nil for version 9")
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		if err := os.WriteFile(path, []byte("link: [unclosed"), 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Error("Load() error = nil for malformed yaml")
		}
	})
}

func TestCaptureDir(t *testing.T) {
	cfg := Default()
	cfg.Capture.Dir = "/var/tmp/caps"
	dir, err := cfg.CaptureDir()
	if err != nil || dir != "/var/tmp/caps" {
		t.Errorf("CaptureDir() = %q, %v", dir, err)
	}

	cfg.Capture.Dir = ""
	dir, err = cfg.CaptureDir()
	if err != nil {
		t.Fatalf("CaptureDir() error = %v", err)
	}
	if filepath.Base(dir) != "captures" {
		t.Errorf("CaptureDir() = %q, want .../captures", dir)
	}
}

func BenchmarkEnsureRobot(b *testing.B) {
	cfg := Default()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cfg.EnsureRobot(uint8(i))
	}
}
