// Package config loads connector settings from a YAML file and merges
// them over the built-in defaults. Credentials can be supplied in the
// file or through environment variables; the environment wins.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/veiloq/backpack-connector/pkg/exchanges/interfaces"
)

// Duration decodes YAML scalars in time.ParseDuration notation ("30s",
// "1m30s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// File is the YAML document shape. Every field is optional; zero values
// fall back to the defaults from interfaces.NewExchangeOptions.
type File struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	RESTEndpoint string `yaml:"rest_endpoint"`
	WSEndpoint   string `yaml:"ws_endpoint"`

	HTTPTimeout          Duration `yaml:"http_timeout"`
	MaxRequestsPerSecond int      `yaml:"max_requests_per_second"`
	SignatureWindow      Duration `yaml:"signature_window"`

	WSReconnectInterval Duration `yaml:"ws_reconnect_interval"`
	WSHeartbeatInterval Duration `yaml:"ws_heartbeat_interval"`
	WSMaxRetries        int      `yaml:"ws_max_retries"`

	DepthGapDetection bool   `yaml:"depth_gap_detection"`
	CacheSize         int    `yaml:"cache_size"`
	LogLevel          string `yaml:"log_level"`
}

// Environment variable names honoured by Load.
const (
	EnvAPIKey    = "BACKPACK_API_KEY"
	EnvAPISecret = "BACKPACK_API_SECRET"
)

// Load reads path and returns exchange options with file values applied
// over the defaults. A missing file is an error; an empty file yields
// pure defaults.
func Load(path string) (*interfaces.ExchangeOptions, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return file.apply(), nil
}

// FromEnvironment returns default options with credentials taken from
// the environment, for deployments that avoid config files entirely.
func FromEnvironment() *interfaces.ExchangeOptions {
	return (File{}).apply()
}

func (f File) apply() *interfaces.ExchangeOptions {
	options := interfaces.NewExchangeOptions()

	if f.RESTEndpoint != "" {
		options.RESTEndpoint = f.RESTEndpoint
	}
	if f.WSEndpoint != "" {
		options.WSEndpoint = f.WSEndpoint
	}
	if f.HTTPTimeout > 0 {
		options.HTTPTimeout = time.Duration(f.HTTPTimeout)
	}
	if f.MaxRequestsPerSecond > 0 {
		options.MaxRequestsPerSecond = f.MaxRequestsPerSecond
	}
	if f.SignatureWindow > 0 {
		options.SignatureWindow = time.Duration(f.SignatureWindow)
	}
	if f.WSReconnectInterval > 0 {
		options.WSReconnectInterval = time.Duration(f.WSReconnectInterval)
	}
	if f.WSHeartbeatInterval > 0 {
		options.WSHeartbeatInterval = time.Duration(f.WSHeartbeatInterval)
	}
	if f.WSMaxRetries > 0 {
		options.WSMaxRetries = f.WSMaxRetries
	}
	if f.DepthGapDetection {
		options.DepthGapDetection = true
	}
	if f.CacheSize > 0 {
		options.CacheSize = f.CacheSize
	}
	if f.LogLevel != "" {
		options.LogLevel = f.LogLevel
	}

	options.APIKey = f.APIKey
	options.APISecret = f.APISecret
	if key := os.Getenv(EnvAPIKey); key != "" {
		options.APIKey = key
	}
	if secret := os.Getenv(EnvAPISecret); secret != "" {
		options.APISecret = secret
	}
	return options
}
