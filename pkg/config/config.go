package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gantryhq/gantry/pkg/types"
)

// Config is the full Gantry server configuration, loaded from YAML with
// defaults applied for everything omitted
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Store   StoreConfig   `yaml:"store"`
	Redis   RedisConfig   `yaml:"redis"`
	Remote  RemoteConfig  `yaml:"remote"`
	Queue   QueueConfig   `yaml:"queue"`
	Tracker TrackerConfig `yaml:"tracker"`
	Health  HealthConfig  `yaml:"health"`
	Deploy  DeployConfig  `yaml:"deploy"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StoreConfig holds deployment store settings
type StoreConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds coordination store settings
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RemoteConfig holds the endpoints of the services Gantry drives
type RemoteConfig struct {
	// BaseURL is the root of the ASG management service
	BaseURL string `yaml:"base_url"`

	// EnvironmentURLs override BaseURL for specific environments
	EnvironmentURLs map[string]string `yaml:"environment_urls"`

	// PropertiesURL is the root of the application property service used for
	// protected deployment parameters
	PropertiesURL string `yaml:"properties_url"`

	// ImagesURL is the root of the image registry used to verify that an AMI
	// belongs to the application being deployed
	ImagesURL string `yaml:"images_url"`

	// ConnectTimeout bounds dialing; Timeout bounds the whole exchange
	ConnectTimeout Duration `yaml:"connect_timeout"`
	Timeout        Duration `yaml:"timeout"`
}

// URLFor returns the service root for an environment
func (r RemoteConfig) URLFor(environment string) string {
	if url, ok := r.EnvironmentURLs[environment]; ok {
		return url
	}
	return r.BaseURL
}

// QueueConfig holds work queue settings
type QueueConfig struct {
	Workers      int      `yaml:"workers"`
	LockDuration Duration `yaml:"lock_duration"`
	EmptyBackoff Duration `yaml:"empty_backoff"`
	Throttle     Duration `yaml:"throttle"`
	ReapInterval Duration `yaml:"reap_interval"`
}

// TrackerConfig holds remote task tracker settings
type TrackerConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
	MaxRetries   int      `yaml:"max_retries"`
}

// HealthConfig holds instance and load balancer health wait settings
type HealthConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
	MaxAttempts  int      `yaml:"max_attempts"`
	Timeout      Duration `yaml:"timeout"`
}

// DeployConfig holds deployment parameter policy
type DeployConfig struct {
	// SSHKey is attached to launch configurations that name none
	SSHKey string `yaml:"ssh_key"`

	// HealthcheckSecurityGroup and MonitoringSecurityGroup are appended to
	// every launch configuration so health probes and metrics collection can
	// reach the instances
	HealthcheckSecurityGroup string `yaml:"healthcheck_security_group"`
	MonitoringSecurityGroup  string `yaml:"monitoring_security_group"`

	// Defaults apply to every deployment before user parameters
	Defaults types.Parameters `yaml:"defaults"`

	// Environments maps environment names to their settings
	Environments map[string]EnvironmentConfig `yaml:"environments"`
}

// EnvironmentConfig holds per-environment parameter policy
type EnvironmentConfig struct {
	// VPCID qualifies load balancer selections for internal subnets
	VPCID string `yaml:"vpc_id"`

	// Defaults override global defaults for this environment
	Defaults types.Parameters `yaml:"defaults"`

	// Protected override whatever the user supplied
	Protected types.Parameters `yaml:"protected"`
}

// Environment returns the settings for an environment, zero-valued when the
// environment is not configured
func (d DeployConfig) Environment(name string) EnvironmentConfig {
	return d.Environments[name]
}

// DefaultsFor merges global and environment defaults for an environment
func (d DeployConfig) DefaultsFor(name string) types.Parameters {
	return types.MergeParameters(d.Defaults, d.Environment(name).Defaults)
}

// Default returns the configuration used when no file overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress: ":8080",
		},
		Log: LogConfig{
			Level: "info",
			JSON:  true,
		},
		Store: StoreConfig{
			Path: "/var/lib/gantry/deployments.db",
		},
		Redis: RedisConfig{
			Address:   "localhost:6379",
			KeyPrefix: "gantry",
		},
		Remote: RemoteConfig{
			ConnectTimeout: Duration(5 * time.Second),
			Timeout:        Duration(15 * time.Second),
		},
		Queue: QueueConfig{
			Workers:      1,
			LockDuration: Duration(60 * time.Second),
			EmptyBackoff: Duration(200 * time.Millisecond),
			Throttle:     Duration(200 * time.Millisecond),
			ReapInterval: Duration(30 * time.Second),
		},
		Tracker: TrackerConfig{
			PollInterval: Duration(1 * time.Second),
			MaxRetries:   3600,
		},
		Health: HealthConfig{
			PollInterval: Duration(1 * time.Second),
			MaxAttempts:  3600,
			Timeout:      Duration(5 * time.Second),
		},
		Deploy: DeployConfig{
			SSHKey: "gantry",
		},
	}
}

// Load reads configuration from a YAML file over the defaults and validates
// the result. An empty path skips the file and validates the defaults alone,
// which fails until the settings with no default (remote.base_url) are set.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that have no usable zero value
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.Redis.Address == "" {
		return fmt.Errorf("redis.address is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1")
	}
	if c.Tracker.MaxRetries < 0 {
		return fmt.Errorf("tracker.max_retries must not be negative")
	}
	return nil
}

// Duration unmarshals from either a Go duration string ("200ms", "60s") or a
// bare number of seconds
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration value")
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
