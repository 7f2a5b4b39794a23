package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentx-labs/modkit/internal/branding"
	"github.com/spf13/viper"
)

const (
	fileName = "config"
	fileType = "yaml"
)

// Config keys.
const (
	KeyModsDir           = "mods_dir"
	KeyInstallRoot       = "install_root"
	KeyDeleteInvalidMods = "delete_invalid_mods"
	KeyTargetPackageID   = "target.package_id"
	KeyTargetVersion     = "target.version"
	KeyFetchTimeout      = "fetch.timeout"
	KeyFetchRetries      = "fetch.retries"
	KeyFetchUserAgent    = "fetch.user_agent"
	KeyLogLevel          = "log.level"
	KeyLogFormat         = "log.format"
)

// Config is the resolved configuration.
type Config struct {
	// ModsDir holds one persisted file per imported package.
	ModsDir string `mapstructure:"mods_dir"`
	// InstallRoot is where mod and library files are copied on install.
	InstallRoot string `mapstructure:"install_root"`
	// DeleteInvalidMods removes files from ModsDir that fail to load.
	DeleteInvalidMods bool         `mapstructure:"delete_invalid_mods"`
	Target            TargetConfig `mapstructure:"target"`
	Fetch             FetchConfig  `mapstructure:"fetch"`
	Log               LogConfig    `mapstructure:"log"`
}

// TargetConfig identifies the application mods are installed into.
type TargetConfig struct {
	PackageID string `mapstructure:"package_id"`
	Version   string `mapstructure:"version"`
}

// FetchConfig configures dependency acquisition.
type FetchConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	Retries   int           `mapstructure:"retries"`
	UserAgent string        `mapstructure:"user_agent"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ModsLibsDirs returns the destination directories for mod files and
// library files under the install root.
func (c *Config) ModsLibsDirs() (string, string) {
	return filepath.Join(c.InstallRoot, "mods"), filepath.Join(c.InstallRoot, "libs")
}

// Dir returns the path to the config directory (~/.modkit/).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", branding.HomeDir())
	}
	return filepath.Join(home, branding.HomeDir())
}

// FilePath returns the full path to the config file (~/.modkit/config.yaml).
func FilePath() string {
	return filepath.Join(Dir(), fileName+"."+fileType)
}

// EnsureDir creates the config directory if it does not exist.
func EnsureDir() error {
	dir := Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	return nil
}

func setDefaults() {
	dir := Dir()
	viper.SetDefault(KeyModsDir, filepath.Join(dir, "packages"))
	viper.SetDefault(KeyInstallRoot, filepath.Join(dir, "installed"))
	viper.SetDefault(KeyDeleteInvalidMods, false)
	viper.SetDefault(KeyTargetPackageID, "")
	viper.SetDefault(KeyTargetVersion, "")
	viper.SetDefault(KeyFetchTimeout, 2*time.Minute)
	viper.SetDefault(KeyFetchRetries, 3)
	viper.SetDefault(KeyFetchUserAgent, branding.UserAgent())
	viper.SetDefault(KeyLogLevel, "warn")
	viper.SetDefault(KeyLogFormat, "text")
}

// Load initializes Viper from the config file and environment and returns
// the typed configuration. A missing config file is not an error.
func Load() (*Config, error) {
	viper.Reset()
	setDefaults()

	viper.SetConfigFile(FilePath())
	viper.SetConfigType(fileType)
	viper.SetEnvPrefix(branding.EnvPrefix())
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil && !isNotExist(err) {
		return nil, fmt.Errorf("reading config file %s: %w", FilePath(), err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.ModsDir == "" || cfg.InstallRoot == "" {
		return nil, fmt.Errorf("config: %s and %s must not be empty", KeyModsDir, KeyInstallRoot)
	}
	return &cfg, nil
}

func isNotExist(err error) bool {
	if os.IsNotExist(err) {
		return true
	}
	_, ok := err.(viper.ConfigFileNotFoundError)
	return ok
}

// Get returns a config value by key. Returns empty string if not set.
func Get(key string) string {
	return viper.GetString(key)
}

// Set writes a config key-value pair and saves the config file.
func Set(key, value string) error {
	if err := EnsureDir(); err != nil {
		return err
	}

	viper.Set(key, value)

	configFile := FilePath()

	// Create the file if it doesn't exist.
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("creating config file %s: %w", configFile, err)
		}
		f.Close()
	}

	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
