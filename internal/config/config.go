package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Printer  PrinterConfig  `yaml:"printer"`
	Queue    QueueConfig    `yaml:"queue"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path     string `yaml:"path"`
	SpoolDir string `yaml:"spool_dir"`
}

// PrinterConfig describes the currently selected endpoint and how output
// should be shaped for it. Address empty means no printer is configured and
// submitted jobs block until one is.
type PrinterConfig struct {
	Transport      string        `yaml:"transport"`   // "ble" or "serial"
	Address        string        `yaml:"address"`     // BLE MAC / serial device path
	PaperWidth     string        `yaml:"paper_width"` // "narrow" (58mm) or "wide" (80mm)
	AutoCut        bool          `yaml:"auto_cut"`
	FeedLines      int           `yaml:"feed_lines"`
	Encoding       string        `yaml:"encoding"` // "utf8", "cp437", "shiftjis"
	Density        int           `yaml:"density"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ChunkDelay     time.Duration `yaml:"chunk_delay"`
	BaudRate       int           `yaml:"baud_rate"`
}

type QueueConfig struct {
	MaxHistory int           `yaml:"max_history"`
	PageDelay  time.Duration `yaml:"page_delay"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8340,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:     "./data/inkfeed.db",
			SpoolDir: "./data/spool",
		},
		Printer: PrinterConfig{
			Transport:      "ble",
			PaperWidth:     "narrow",
			AutoCut:        true,
			FeedLines:      3,
			Encoding:       "utf8",
			Density:        3,
			ConnectTimeout: 15 * time.Second,
			WriteTimeout:   10 * time.Second,
			ChunkDelay:     20 * time.Millisecond,
			BaudRate:       115200,
		},
		Queue: QueueConfig{
			MaxHistory: 200,
			PageDelay:  150 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

func LoadFromEnv() *Config {
	cfg := defaults()

	if v := os.Getenv("INKFEED_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("INKFEED_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("INKFEED_SPOOL_DIR"); v != "" {
		cfg.Database.SpoolDir = v
	}

	if v := os.Getenv("INKFEED_PRINTER_ADDRESS"); v != "" {
		cfg.Printer.Address = v
	}

	if v := os.Getenv("INKFEED_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Database.SpoolDir == "" {
		return fmt.Errorf("spool directory is required")
	}

	if err := c.Printer.Validate(); err != nil {
		return err
	}

	if c.Queue.MaxHistory < 0 {
		return fmt.Errorf("max history must be non-negative")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.Logging.Format)
	}

	return nil
}

// Validate checks the printer section on its own, so runtime settings
// updates go through the same rules as the config file.
func (p *PrinterConfig) Validate() error {
	switch p.Transport {
	case "ble", "serial":
	default:
		return fmt.Errorf("invalid transport: %s (valid: ble, serial)", p.Transport)
	}

	switch p.PaperWidth {
	case "narrow", "wide":
	default:
		return fmt.Errorf("invalid paper width: %s (valid: narrow, wide)", p.PaperWidth)
	}

	switch p.Encoding {
	case "utf8", "cp437", "shiftjis":
	default:
		return fmt.Errorf("invalid encoding: %s (valid: utf8, cp437, shiftjis)", p.Encoding)
	}

	if p.FeedLines < 0 || p.FeedLines > 255 {
		return fmt.Errorf("feed lines must be between 0 and 255, got %d", p.FeedLines)
	}

	if p.Density < 1 || p.Density > 4 {
		return fmt.Errorf("density must be between 1 and 4, got %d", p.Density)
	}

	if p.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}

	if p.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}

	if p.ChunkDelay < 0 {
		return fmt.Errorf("chunk delay must be non-negative")
	}

	if p.Transport == "serial" && p.BaudRate <= 0 {
		return fmt.Errorf("baud rate must be positive for serial transport")
	}

	return nil
}

// DotsPerLine maps the paper width class to the print head width in dots at
// the standard 203dpi.
func (p *PrinterConfig) DotsPerLine() int {
	if p.PaperWidth == "wide" {
		return 576
	}
	return 384
}
