package settings

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/nixxel-company-limited/ql-usb-server/cache"
	"github.com/nixxel-company-limited/ql-usb-server/label"
	"github.com/nixxel-company-limited/ql-usb-server/prepare"
	"github.com/nixxel-company-limited/ql-usb-server/qlerr"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Printer  PrinterConfig
	Cache    CacheConfig
	Prepare  PrepareConfig
	Print    PrintSettings
	LogLevel string
}

// ServerConfig holds the listen addresses. An empty address disables that
// listener.
type ServerConfig struct {
	Address      string
	HTTPAddress  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type PrinterConfig struct {
	VendorID    uint16
	ProductID   uint16
	Serial      string
	StatusDelay time.Duration
	ReadTimeout time.Duration
}

type CacheConfig struct {
	// Backend is one of "memory", "redis" or "none".
	Backend string
	TTL     time.Duration
	Redis   cache.RedisConfig
}

type PrepareConfig struct {
	// URL of an external rendering service. Empty renders in process.
	URL      string
	Timeout  time.Duration
	Encoding prepare.Encoding
}

func setDefaults(v *viper.Viper) {
	def := Default().Defaults

	v.SetDefault("SERVER_ADDRESS", "localhost:9100")
	v.SetDefault("HTTP_ADDRESS", "localhost:8013")
	v.SetDefault("HTTP_READ_TIMEOUT", "10s")
	v.SetDefault("HTTP_WRITE_TIMEOUT", "60s")

	v.SetDefault("PRINTER_VENDOR_ID", "0x04f9")
	v.SetDefault("PRINTER_PRODUCT_ID", "")
	v.SetDefault("PRINTER_SERIAL", "")
	v.SetDefault("STATUS_DELAY", "100ms")
	v.SetDefault("STATUS_READ_TIMEOUT", "1s")

	v.SetDefault("CACHE_BACKEND", "memory")
	v.SetDefault("CACHE_TTL", cache.DefaultTTL.String())
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", cache.DefaultPrefix)

	v.SetDefault("PREPARE_URL", "")
	v.SetDefault("PREPARE_TIMEOUT", "30s")
	v.SetDefault("AUTO_FORMAT", false)
	v.SetDefault("MIRROR", true)

	v.SetDefault("LABEL_SIZE", def.LabelSize)
	v.SetDefault("FONT_SIZE", def.FontSize)
	v.SetDefault("ALIGN", string(def.Align))
	v.SetDefault("ORIENTATION", string(def.Orientation))
	v.SetDefault("COLOR_MODE", string(def.ColorMode))
	v.SetDefault("MARGIN_TOP", def.Margins.Top)
	v.SetDefault("MARGIN_BOTTOM", def.Margins.Bottom)
	v.SetDefault("MARGIN_LEFT", def.Margins.Left)
	v.SetDefault("MARGIN_RIGHT", def.Margins.Right)
	v.SetDefault("CODE_SCALE", def.CodeScale)
	v.SetDefault("TEXT_SCALE", def.TextScale)
	v.SetDefault("AUTO_FIT", *def.AutoFit)
	v.SetDefault("JOB_DELAY", "0s")
	v.SetDefault("PRESETS_FILE", "")

	v.SetDefault("LOG_LEVEL", "info")
}

// Load reads the configuration from the environment, after loading any of
// envFiles (".env" when none are given) that exist. CONFIG_FILE may name a
// yaml, json or toml file with the same keys.
func Load(envFiles ...string) (*Config, error) {
	// Load .env file if it exists (optional)
	_ = godotenv.Load(envFiles...)

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	vendor, err := parseID(v.GetString("PRINTER_VENDOR_ID"))
	if err != nil {
		return nil, fmt.Errorf("PRINTER_VENDOR_ID: %w", err)
	}
	product, err := parseID(v.GetString("PRINTER_PRODUCT_ID"))
	if err != nil {
		return nil, fmt.Errorf("PRINTER_PRODUCT_ID: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Address:      v.GetString("SERVER_ADDRESS"),
			HTTPAddress:  v.GetString("HTTP_ADDRESS"),
			ReadTimeout:  v.GetDuration("HTTP_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("HTTP_WRITE_TIMEOUT"),
		},
		Printer: PrinterConfig{
			VendorID:    vendor,
			ProductID:   product,
			Serial:      v.GetString("PRINTER_SERIAL"),
			StatusDelay: v.GetDuration("STATUS_DELAY"),
			ReadTimeout: v.GetDuration("STATUS_READ_TIMEOUT"),
		},
		Cache: CacheConfig{
			Backend: v.GetString("CACHE_BACKEND"),
			TTL:     v.GetDuration("CACHE_TTL"),
			Redis: cache.RedisConfig{
				Addr:     v.GetString("REDIS_ADDR"),
				Password: v.GetString("REDIS_PASSWORD"),
				DB:       v.GetInt("REDIS_DB"),
				Prefix:   v.GetString("REDIS_PREFIX"),
			},
		},
		Prepare: PrepareConfig{
			URL:     v.GetString("PREPARE_URL"),
			Timeout: v.GetDuration("PREPARE_TIMEOUT"),
			Encoding: prepare.Encoding{
				AutoFormat: v.GetBool("AUTO_FORMAT"),
				Mirror:     v.GetBool("MIRROR"),
			},
		},
		LogLevel: v.GetString("LOG_LEVEL"),
	}

	switch cfg.Cache.Backend {
	case "memory", "redis", "none":
	default:
		return nil, fmt.Errorf("%w: unknown cache backend %q", qlerr.ErrSettingsInvalid, cfg.Cache.Backend)
	}

	autoFit := v.GetBool("AUTO_FIT")
	cfg.Print = PrintSettings{
		Defaults: Preset{
			LabelSize:   v.GetString("LABEL_SIZE"),
			FontSize:    v.GetInt("FONT_SIZE"),
			Align:       label.Align(v.GetString("ALIGN")),
			Orientation: label.Orientation(v.GetString("ORIENTATION")),
			ColorMode:   label.ColorMode(v.GetString("COLOR_MODE")),
			Margins: &label.Margins{
				Top:    v.GetInt("MARGIN_TOP"),
				Bottom: v.GetInt("MARGIN_BOTTOM"),
				Left:   v.GetInt("MARGIN_LEFT"),
				Right:  v.GetInt("MARGIN_RIGHT"),
			},
			CodeScale: v.GetFloat64("CODE_SCALE"),
			TextScale: v.GetFloat64("TEXT_SCALE"),
			AutoFit:   &autoFit,
		},
		Presets:    Default().Presets,
		JobDelayMS: int(v.GetDuration("JOB_DELAY") / time.Millisecond),
	}

	if path := v.GetString("PRESETS_FILE"); path != "" {
		presets, err := LoadPresets(path)
		if err != nil {
			return nil, err
		}
		cfg.Print.Presets = presets
	}

	if err := cfg.Print.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadPresets reads the bin and location presets from a yaml file.
func LoadPresets(path string) (Presets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Presets{}, fmt.Errorf("read presets file: %w", err)
	}
	var p Presets
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Presets{}, fmt.Errorf("%w: parse presets file %s: %w", qlerr.ErrSettingsInvalid, path, err)
	}
	return p, nil
}

// parseID accepts decimal or 0x-prefixed USB ids; empty means any.
func parseID(s string) (uint16, error) {
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, errors.Join(qlerr.ErrSettingsInvalid, err)
	}
	return uint16(id), nil
}
