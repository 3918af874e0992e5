package config

import (
	"context"
	"net/url"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/itrack/internal/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	configName       = "itrack"
	configType       = "toml"
	defaultEnvPrefix = "ITRACK"
	configEnvVar     = "ITRACK_CONFIG"

	DefaultLogLevel         = "info"
	DefaultThrottleInterval = 50 * time.Millisecond
	DefaultSendInterval     = 30 * time.Second
	DefaultVisibility       = 0.5
	DefaultEndpoint         = "http://127.0.0.1:8090/metrics"
	DefaultQueueSize        = 64
	DefaultSendTimeout      = 5 * time.Second
	DefaultListen           = "127.0.0.1:8090"
	DefaultDBPath           = "/var/lib/itrack/metrics.db"
	DefaultBatchSize        = 32
	DefaultBatchTimeout     = 5 * time.Second
)

type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	Transport TransportConfig `mapstructure:"transport"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

type TrackerConfig struct {
	ThrottleInterval    time.Duration `mapstructure:"throttle_interval"`
	SendInterval        time.Duration `mapstructure:"send_interval"`
	VisibilityThreshold float64       `mapstructure:"visibility_threshold"`
}

type TransportConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	Queue     bool          `mapstructure:"queue"`
	QueueSize int           `mapstructure:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Listen       string        `mapstructure:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PIDFile      string        `mapstructure:"pid_file"`
}

type StorageConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	DBPath       string        `mapstructure:"db_path"`
	BackupDir    string        `mapstructure:"backup_dir"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// flag name -> config key
var flagKeys = map[string]string{
	"log-level":     "log_level",
	"endpoint":      "transport.endpoint",
	"send-interval": "tracker.send_interval",
	"throttle":      "tracker.throttle_interval",
	"listen":        "server.listen",
	"db":            "storage.db_path",
	"no-storage":    "",
}

// RegisterFlags adds the shared command line flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to itrack.toml")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("endpoint", DefaultEndpoint, "Collection endpoint for telemetry uploads")
	fs.Duration("send-interval", DefaultSendInterval, "Periodic flush interval")
	fs.Duration("throttle", DefaultThrottleInterval, "Minimum interval between pointer samples")
	fs.String("listen", DefaultListen, "Address the collection endpoint listens on")
	fs.String("db", DefaultDBPath, "Path to the metrics database")
	fs.Bool("no-storage", false, "Disable the metrics database")
}

// Loader reads configuration from file, environment and flags.
type Loader struct {
	v     *viper.Viper
	flags *pflag.FlagSet
	opts  options
}

func NewLoader(flags *pflag.FlagSet, opts ...Option) *Loader {
	o := options{
		envPrefix:  defaultEnvPrefix,
		searchDirs: []string{"/etc/itrack", "."},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.configPath == "" {
		o.configPath = os.Getenv(configEnvVar)
	}
	if o.configPath == "" && flags != nil {
		if f := flags.Lookup("config"); f != nil {
			o.configPath = f.Value.String()
		}
	}

	return &Loader{v: viper.New(), flags: flags, opts: o}
}

// Load loads configuration using the default loader.
func Load(flags *pflag.FlagSet, opts ...Option) (*Config, error) {
	return NewLoader(flags, opts...).Load()
}

func (l *Loader) Load() (*Config, error) {
	errFactory := errors.New()
	v := l.v

	setDefaults(v)

	v.SetConfigType(configType)
	if l.opts.configPath != "" {
		v.SetConfigFile(l.opts.configPath)
	} else {
		v.SetConfigName(configName)
		for _, dir := range l.opts.searchDirs {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	v.SetEnvPrefix(l.opts.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := l.bindFlags(); err != nil {
		return nil, err
	}

	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	errFactory := errors.New()

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Watch reloads the configuration when the file changes and hands valid
// results to callback. Invalid edits are reported to onError and ignored.
func (l *Loader) Watch(ctx context.Context, callback func(*Config), onError func(error)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}

	updates := make(chan struct{}, 1)
	l.v.OnConfigChange(func(_ fsnotify.Event) {
		select {
		case updates <- struct{}{}:
		default:
		}
	})
	l.v.WatchConfig()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-updates:
				cfg, err := l.decode()
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				callback(cfg)
			}
		}
	}()
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) bindFlags() error {
	if l.flags == nil {
		return nil
	}

	for name, key := range flagKeys {
		f := l.flags.Lookup(name)
		if f == nil || key == "" {
			continue
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			return errors.New().Wrap(errors.ErrBindFlags, err)
		}
	}

	if f := l.flags.Lookup("no-storage"); f != nil && f.Changed && f.Value.String() == "true" {
		l.v.Set("storage.enabled", false)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)

	v.SetDefault("tracker.throttle_interval", DefaultThrottleInterval)
	v.SetDefault("tracker.send_interval", DefaultSendInterval)
	v.SetDefault("tracker.visibility_threshold", DefaultVisibility)

	v.SetDefault("transport.endpoint", DefaultEndpoint)
	v.SetDefault("transport.queue", true)
	v.SetDefault("transport.queue_size", DefaultQueueSize)
	v.SetDefault("transport.timeout", DefaultSendTimeout)

	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Second)
	v.SetDefault("server.pid_file", "")

	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.db_path", DefaultDBPath)
	v.SetDefault("storage.backup_dir", "")
	v.SetDefault("storage.batch_size", DefaultBatchSize)
	v.SetDefault("storage.batch_timeout", DefaultBatchTimeout)
}

// Validate checks ranges and formats of all settings.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Tracker.ThrottleInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, "tracker.throttle_interval")
	}
	if c.Tracker.SendInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, "tracker.send_interval")
	}
	if c.Tracker.VisibilityThreshold <= 0 || c.Tracker.VisibilityThreshold > 1 {
		return errFactory.WithData(errors.ErrInvalidConfig, "tracker.visibility_threshold must be in (0, 1]")
	}

	u, err := url.Parse(c.Transport.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errFactory.WithData(errors.ErrInvalidEndpoint, c.Transport.Endpoint)
	}
	if c.Transport.Queue && c.Transport.QueueSize <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "transport.queue_size must be positive")
	}

	if c.Storage.Enabled {
		if c.Storage.DBPath == "" {
			return errFactory.WithData(errors.ErrInvalidConfig, "storage.db_path is required")
		}
		if c.Storage.BatchSize <= 0 {
			return errFactory.WithData(errors.ErrInvalidConfig, "storage.batch_size must be positive")
		}
		if c.Storage.BatchTimeout <= 0 {
			return errFactory.WithData(errors.ErrInvalidInterval, "storage.batch_timeout")
		}
	}

	return nil
}
