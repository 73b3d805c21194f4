// Package config loads and validates the agent configuration file.
// Validation is fail-fast: a config that cannot drive a working agent
// is rejected at startup, not discovered mid-run.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Modes the agent can run in.
const (
	ModeTestwise = "testwise"
	ModeInterval = "interval"
)

// Engine describes one external test engine driven over its CLI.
type Engine struct {
	ID      string   `yaml:"id"`
	Dir     string   `yaml:"dir"`
	ListCmd []string `yaml:"list"`
	RunCmd  []string `yaml:"run"`
	Env     []string `yaml:"env"`
}

// Server holds the upload target. AccessKeyEnv names the environment
// variable carrying the access key; the key itself never appears in the
// file.
type Server struct {
	URL          string `yaml:"url"`
	Project      string `yaml:"project"`
	User         string `yaml:"user"`
	AccessKeyEnv string `yaml:"accessKeyEnv"`
	Partition    string `yaml:"partition"`
	Message      string `yaml:"message"`
	Revision     string `yaml:"revision"`
	Format       string `yaml:"format"`
}

// Config is the validated agent configuration.
type Config struct {
	Mode         string
	OutputDir    string
	SplitAfter   int
	Interval     time.Duration
	ShutdownDump bool
	Endpoints    []string
	ControlAddr  string
	Server       *Server
	Engines      []Engine
}

type fileConfig struct {
	Mode         string   `yaml:"mode"`
	OutputDir    string   `yaml:"outputDir"`
	SplitAfter   int      `yaml:"splitAfter"`
	Interval     string   `yaml:"interval"`
	ShutdownDump *bool    `yaml:"shutdownDump"`
	Endpoints    []string `yaml:"endpoints"`
	ControlAddr  string   `yaml:"controlAddr"`
	Server       *Server  `yaml:"server"`
	Engines      []Engine `yaml:"engines"`
}

type Loader struct{}

func (l Loader) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (l Loader) Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return parse(raw)
}

func parse(raw []byte) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Mode:         fc.Mode,
		OutputDir:    fc.OutputDir,
		SplitAfter:   fc.SplitAfter,
		ShutdownDump: true,
		Endpoints:    fc.Endpoints,
		ControlAddr:  fc.ControlAddr,
		Server:       fc.Server,
		Engines:      fc.Engines,
	}
	if fc.ShutdownDump != nil {
		cfg.ShutdownDump = *fc.ShutdownDump
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeTestwise
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "coverage-out"
	}
	if fc.Interval != "" {
		d, err := time.ParseDuration(fc.Interval)
		if err != nil {
			return Config{}, fmt.Errorf("invalid interval %q: %w", fc.Interval, err)
		}
		cfg.Interval = d
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Mode {
	case ModeTestwise, ModeInterval:
	default:
		return fmt.Errorf("invalid mode %q (want %s or %s)", c.Mode, ModeTestwise, ModeInterval)
	}
	if c.SplitAfter < 0 {
		return fmt.Errorf("splitAfter must not be negative, got %d", c.SplitAfter)
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval must not be negative, got %s", c.Interval)
	}
	if c.Mode == ModeTestwise && len(c.Engines) == 0 {
		return errors.New("testwise mode needs at least one engine")
	}
	seen := make(map[string]bool, len(c.Engines))
	for i, e := range c.Engines {
		if e.ID == "" {
			return fmt.Errorf("engine %d has no id", i)
		}
		if seen[e.ID] {
			return fmt.Errorf("duplicate engine id %q", e.ID)
		}
		seen[e.ID] = true
		if len(e.ListCmd) == 0 {
			return fmt.Errorf("engine %q has no list command", e.ID)
		}
		if len(e.RunCmd) == 0 {
			return fmt.Errorf("engine %q has no run command", e.ID)
		}
	}
	if c.Server != nil {
		if c.Server.URL == "" {
			return errors.New("server.url is required when server is configured")
		}
		if c.Server.Project == "" {
			return errors.New("server.project is required when server is configured")
		}
		if c.Server.User != "" && c.Server.AccessKeyEnv == "" {
			return errors.New("server.accessKeyEnv is required when server.user is set")
		}
	}
	return nil
}

// Write renders a config back to YAML, used by the config scaffolding
// command.
func Write(w io.Writer, cfg Config) error {
	fc := fileConfig{
		Mode:        cfg.Mode,
		OutputDir:   cfg.OutputDir,
		SplitAfter:  cfg.SplitAfter,
		Endpoints:   cfg.Endpoints,
		ControlAddr: cfg.ControlAddr,
		Server:      cfg.Server,
		Engines:     cfg.Engines,
	}
	if cfg.Interval > 0 {
		fc.Interval = cfg.Interval.String()
	}
	if !cfg.ShutdownDump {
		off := false
		fc.ShutdownDump = &off
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	return enc.Encode(fc)
}
