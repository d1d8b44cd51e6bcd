// Package config loads FramePool settings from a YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	executor "github.com/vearne/frameexecutor"
)

// EnvPrefix prefixes every environment override, e.g. FRAMEPOOL_CONCURRENCY.
const EnvPrefix = "FRAMEPOOL"

type Config struct {
	// Maximum number of executors
	Concurrency int `yaml:"concurrency"`
	// 0 means unbounded
	TaskQueueCap int `yaml:"task_queue_cap"`
	// fifo or lifo
	QueueOrder string `yaml:"queue_order"`
	// 0 disables stall detection
	ReplyTimeout   time.Duration `yaml:"reply_timeout"`
	DetectInterval time.Duration `yaml:"detect_interval"`
	PixelStride    int           `yaml:"pixel_stride"`
}

// Default mirrors the FramePool defaults.
func Default() Config {
	return Config{
		Concurrency:    runtime.NumCPU(),
		QueueOrder:     executor.FIFO.String(),
		DetectInterval: time.Second,
		PixelStride:    4,
	}
}

// Load reads path on top of Default, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		// #nosec G304 -- path comes from the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read YAML file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to unmarshal YAML: %w", err)
		}
	}
	if err := ApplyEnvOverrides(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnvOverrides sets fields of target from PREFIX_<YAML_KEY> variables.
func ApplyEnvOverrides(prefix string, target *Config) error {
	val := reflect.ValueOf(target).Elem()
	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		key, _, _ := strings.Cut(typ.Field(i).Tag.Get("yaml"), ",")
		if key == "" || key == "-" {
			continue
		}
		envKey := prefix + "_" + strings.ToUpper(key)
		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}
		if err := setField(val.Field(i), envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", typ.Field(i).Name, envKey, err)
		}
	}
	return nil
}

func setField(field reflect.Value, envValue string) error {
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(envValue)
		if err != nil {
			return fmt.Errorf("invalid duration value: %s", envValue)
		}
		field.SetInt(int64(d))
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int:
		n, err := strconv.Atoi(envValue)
		if err != nil {
			return fmt.Errorf("invalid integer value: %s", envValue)
		}
		field.SetInt(int64(n))
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

func (c Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("validation failed: concurrency must be positive, got %d", c.Concurrency)
	}
	if c.TaskQueueCap < 0 {
		return fmt.Errorf("validation failed: task_queue_cap must not be negative, got %d", c.TaskQueueCap)
	}
	if c.PixelStride < 0 {
		return fmt.Errorf("validation failed: pixel_stride must not be negative, got %d", c.PixelStride)
	}
	if c.ReplyTimeout < 0 || c.DetectInterval < 0 {
		return fmt.Errorf("validation failed: durations must not be negative")
	}
	if _, err := c.Order(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

func (c Config) Order() (executor.QueueOrder, error) {
	switch strings.ToLower(c.QueueOrder) {
	case "", "fifo":
		return executor.FIFO, nil
	case "lifo":
		return executor.LIFO, nil
	}
	return executor.FIFO, fmt.Errorf("unknown queue_order %q", c.QueueOrder)
}

// Options converts the config into FramePool options. Call Validate first.
func (c Config) Options() []executor.Option {
	order, _ := c.Order()
	return []executor.Option{
		executor.WithConcurrency(c.Concurrency),
		executor.WithTaskQueueCap(c.TaskQueueCap),
		executor.WithQueueOrder(order),
		executor.WithReplyTimeout(c.ReplyTimeout),
		executor.WithDetectInterval(c.DetectInterval),
		executor.WithPixelStride(c.PixelStride),
	}
}
