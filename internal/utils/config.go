package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	LogLevel  string `yaml:"log_level" mapstructure:"log_level" env:"OBJKIT_LOG_LEVEL"`
	LogFormat string `yaml:"log_format" mapstructure:"log_format" env:"OBJKIT_LOG_FORMAT"`
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir" env:"OBJKIT_OUTPUT_DIR"`

	// Output file handling
	Write WriteConfig `yaml:"write" mapstructure:"write"`

	// Mach-O relayout tuning
	MachO MachOConfig `yaml:"macho" mapstructure:"macho"`

	// Inspection checks
	Checks ChecksConfig `yaml:"checks" mapstructure:"checks"`
}

// WriteConfig controls how rebuilt images are written.
type WriteConfig struct {
	FileMode  string `yaml:"file_mode" mapstructure:"file_mode" env:"OBJKIT_WRITE_FILE_MODE"`
	Overwrite bool   `yaml:"overwrite" mapstructure:"overwrite" env:"OBJKIT_WRITE_OVERWRITE"`
}

// Mode parses FileMode as an octal permission.
func (w WriteConfig) Mode() (os.FileMode, error) {
	if w.FileMode == "" {
		return 0o755, nil
	}
	v, err := strconv.ParseUint(w.FileMode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid file mode %q: %w", w.FileMode, err)
	}
	if v > 0o777 {
		return 0, fmt.Errorf("invalid file mode %q: only permission bits are allowed", w.FileMode)
	}
	return os.FileMode(v), nil
}

// MachOConfig holds Mach-O specific settings. A zero PageSize means the page
// size is derived from the CPU type.
type MachOConfig struct {
	PageSize uint64 `yaml:"page_size" mapstructure:"page_size" env:"OBJKIT_MACHO_PAGE_SIZE"`
}

// ChecksConfig selects which inspection checks run.
type ChecksConfig struct {
	Skip     []string `yaml:"skip" mapstructure:"skip" env:"OBJKIT_CHECKS_SKIP"`
	FailFast bool     `yaml:"fail_fast" mapstructure:"fail_fast" env:"OBJKIT_CHECKS_FAIL_FAST"`
}

// ConfigManager handles configuration loading and management
type ConfigManager struct {
	config *Config
	viper  *viper.Viper
	logger *Logger
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config: &Config{},
		viper:  viper.New(),
		logger: Diagnostics(),
	}
}

// LoadConfig loads configuration from file and environment variables
func (c *ConfigManager) LoadConfig(configFile string) error {
	c.setDefaults()

	c.viper.SetConfigType("yaml")
	c.viper.SetEnvPrefix("OBJKIT")
	c.viper.AutomaticEnv()
	c.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configFile != "" {
		c.viper.SetConfigFile(configFile)
		if err := c.viper.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("failed to read config file: %w", err)
			}
			c.logger.WithComponent("config").Warnf("Config file not found: %s", configFile)
		} else {
			c.logger.WithComponent("config").Infof("Loaded config from: %s", c.viper.ConfigFileUsed())
		}
	} else {
		c.viper.SetConfigName("objkit")
		c.viper.AddConfigPath(".")
		c.viper.AddConfigPath("$HOME/.objkit")

		if err := c.viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("failed to read config file: %w", err)
			}
			c.logger.WithComponent("config").Debug("No config file found, using defaults and environment variables")
		} else {
			c.logger.WithComponent("config").Infof("Loaded config from: %s", c.viper.ConfigFileUsed())
		}
	}

	return c.finish()
}

func (c *ConfigManager) finish() error {
	if err := c.viper.Unmarshal(c.config); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := c.loadFromEnv(); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := c.validateConfig(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	c.logger.WithComponent("config").Debug("Configuration loaded successfully")
	return nil
}

// setDefaults sets default configuration values
func (c *ConfigManager) setDefaults() {
	c.viper.SetDefault("log_level", "warn")
	c.viper.SetDefault("log_format", "text")
	c.viper.SetDefault("output_dir", "")

	c.viper.SetDefault("write.file_mode", "0755")
	c.viper.SetDefault("write.overwrite", false)

	c.viper.SetDefault("macho.page_size", 0)

	c.viper.SetDefault("checks.skip", []string{})
	c.viper.SetDefault("checks.fail_fast", false)
}

// loadFromEnv loads configuration from environment variables using struct tags
func (c *ConfigManager) loadFromEnv() error {
	return c.loadEnvForStruct(reflect.ValueOf(c.config).Elem())
}

// loadEnvForStruct recursively loads environment variables for a struct
func (c *ConfigManager) loadEnvForStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := c.loadEnvForStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		if envValue := os.Getenv(envTag); envValue != "" {
			if err := setFieldFromString(field, envValue); err != nil {
				return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envTag, err)
			}
		}
	}

	return nil
}

// setFieldFromString sets a field value from a string
func setFieldFromString(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value: %s", value)
		}
		field.SetBool(boolVal)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intVal, err := strconv.ParseInt(value, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value: %s", value)
		}
		field.SetInt(intVal)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		// base 0 so page sizes can be given as 0x4000
		uintVal, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned integer value: %s", value)
		}
		field.SetUint(uintVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(value, ",")
			for i, v := range values {
				values[i] = strings.TrimSpace(v)
			}
			field.Set(reflect.ValueOf(values))
		}
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// validateConfig validates the loaded configuration
func (c *ConfigManager) validateConfig() error {
	if c.config.LogLevel != "" {
		validLogLevels := []string{"debug", "info", "warn", "error"}
		if !contains(validLogLevels, strings.ToLower(c.config.LogLevel)) {
			return fmt.Errorf("invalid log level: %s (valid: %v)", c.config.LogLevel, validLogLevels)
		}
	}

	if c.config.LogFormat != "" {
		validLogFormats := []string{"text", "json"}
		if !contains(validLogFormats, strings.ToLower(c.config.LogFormat)) {
			return fmt.Errorf("invalid log format: %s (valid: %v)", c.config.LogFormat, validLogFormats)
		}
	}

	if _, err := c.config.Write.Mode(); err != nil {
		return err
	}

	if p := c.config.MachO.PageSize; p != 0 && p&(p-1) != 0 {
		return fmt.Errorf("invalid macho.page_size %#x: must be a power of two", p)
	}

	if c.config.OutputDir != "" {
		expanded, err := expandPath(c.config.OutputDir)
		if err != nil {
			return fmt.Errorf("failed to expand output dir: %w", err)
		}
		c.config.OutputDir = expanded
	}

	return nil
}

// expandPath expands a path with environment variables and home directory
func expandPath(path string) (string, error) {
	expanded := os.ExpandEnv(path)

	if strings.HasPrefix(expanded, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		expanded = filepath.Join(homeDir, expanded[2:])
	}

	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	return absPath, nil
}

// GetConfig returns the loaded configuration
func (c *ConfigManager) GetConfig() *Config {
	return c.config
}

// SetLogger sets the logger for the config manager
func (c *ConfigManager) SetLogger(logger *Logger) {
	c.logger = logger
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// LoadDefaultConfig loads a default configuration
func LoadDefaultConfig() (*Config, error) {
	manager := NewConfigManager()
	if err := manager.LoadConfig(""); err != nil {
		return nil, err
	}
	return manager.GetConfig(), nil
}

// LoadConfigFromFile loads configuration from a specific file
func LoadConfigFromFile(filename string) (*Config, error) {
	manager := NewConfigManager()
	if err := manager.LoadConfig(filename); err != nil {
		return nil, err
	}
	return manager.GetConfig(), nil
}

// LoadWithOverrides loads defaults and environment with the given keys
// forced to the provided values.
func LoadWithOverrides(overrides map[string]interface{}) (*Config, error) {
	manager := NewConfigManager()
	manager.setDefaults()

	for key, value := range overrides {
		manager.viper.Set(key, value)
	}

	manager.viper.SetEnvPrefix("OBJKIT")
	manager.viper.AutomaticEnv()
	manager.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := manager.finish(); err != nil {
		return nil, err
	}
	return manager.GetConfig(), nil
}
