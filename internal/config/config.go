package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "/etc/robot-bridge/bridge.yaml"

const (
	DefaultRobotAddress   = "192.168.1.100"
	DefaultRobotPort      = 8080
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 5 * time.Second
	DefaultLLMBaseURL     = "http://127.0.0.1:11434"
	DefaultLLMModel       = "gemma3:4b"
	DefaultLLMTimeout     = 60 * time.Second
)

// Dispatch policies.
const (
	PolicyOrdered = "ordered" // FIFO per robot address
	PolicyLatest  = "latest"  // newer pending command replaces an older one
)

type Config struct {
	BridgeID   string `yaml:"bridge_id"`
	ControlURL string `yaml:"control_url"` // chat surface, e.g. ws://10.0.0.2:9000

	Robot    RobotConfig    `yaml:"robot"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	LLM      LLMConfig      `yaml:"llm"`
	Log      LogConfig      `yaml:"log"`
}

// RobotConfig describes where commands go. Address is the only field users
// normally edit.
type RobotConfig struct {
	Address        string        `yaml:"address"`
	Port           int           `yaml:"port"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
}

type DispatchConfig struct {
	Policy      string        `yaml:"policy"`
	MinInterval time.Duration `yaml:"min_interval"` // 0 disables pacing
}

type LLMConfig struct {
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a config with every field at its default.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Validate rejects values the bridge cannot run with. The robot address is
// deliberately not checked beyond being present; the HTTP client is the judge.
func (c *Config) Validate() error {
	switch c.Dispatch.Policy {
	case PolicyOrdered, PolicyLatest:
	default:
		return fmt.Errorf("dispatch.policy must be %q or %q, got %q", PolicyOrdered, PolicyLatest, c.Dispatch.Policy)
	}
	if c.Robot.Port <= 0 || c.Robot.Port > 65535 {
		return fmt.Errorf("robot.port out of range: %d", c.Robot.Port)
	}
	if c.Dispatch.MinInterval < 0 {
		return fmt.Errorf("dispatch.min_interval must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.Robot.Address = strings.TrimSpace(c.Robot.Address)
	if c.Robot.Address == "" {
		c.Robot.Address = DefaultRobotAddress
	}
	if c.Robot.Port == 0 {
		c.Robot.Port = DefaultRobotPort
	}
	if c.Robot.ConnectTimeout <= 0 {
		c.Robot.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Robot.ReadTimeout <= 0 {
		c.Robot.ReadTimeout = DefaultReadTimeout
	}
	c.Dispatch.Policy = strings.ToLower(strings.TrimSpace(c.Dispatch.Policy))
	if c.Dispatch.Policy == "" {
		c.Dispatch.Policy = PolicyOrdered
	}
	c.LLM.BaseURL = strings.TrimRight(strings.TrimSpace(c.LLM.BaseURL), "/")
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = DefaultLLMBaseURL
	}
	if c.LLM.Model == "" {
		c.LLM.Model = DefaultLLMModel
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = DefaultLLMTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
