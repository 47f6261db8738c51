package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"capturekit/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type DefaultPaths struct {
	ConfigDir      string
	LogPathApp     string
	LogPathCapture string
	CACertPath     string
	CAKeyPath      string
	DBPath         string
	LogLevel       string
}

type Configuration struct {
	Database struct {
		Driver        string `mapstructure:"driver"`
		Path          string `mapstructure:"path"`
		MongoURI      string `mapstructure:"mongo_uri"`
		MongoDatabase string `mapstructure:"mongo_database"`
	} `mapstructure:"database"`
	Server struct {
		Port    string `mapstructure:"port"`
		LogPath string `mapstructure:"log_path"`
	} `mapstructure:"server"`
	Capture struct {
		LogPath string `mapstructure:"log_path"`
	} `mapstructure:"capture"`
	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
	Proxy struct {
		Port        string `mapstructure:"port"`
		HostPattern string `mapstructure:"host_pattern"`
		CACertPath  string `mapstructure:"ca_cert_path"`
		CAKeyPath   string `mapstructure:"ca_key_path"`
	} `mapstructure:"proxy"`
	Redis struct {
		Enabled    bool   `mapstructure:"enabled"`
		Addr       string `mapstructure:"addr"`
		Password   string `mapstructure:"password"`
		DB         int    `mapstructure:"db"`
		TTLSeconds int    `mapstructure:"ttl_seconds"`
		KeyPrefix  string `mapstructure:"key_prefix"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
		GroupID string   `mapstructure:"group_id"`
	} `mapstructure:"kafka"`
	Classifier struct {
		RulesFile string `mapstructure:"rules_file"`
	} `mapstructure:"classifier"`
	Ingest struct {
		MaxCommentDepth int `mapstructure:"max_comment_depth"`
		Concurrency     int `mapstructure:"concurrency"`
	} `mapstructure:"ingest"`
}

var AppConfig Configuration

func expandTilde(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

func GetDefaultConfigPaths() DefaultPaths {
	var paths DefaultPaths
	userConfigDirBase, err := os.UserConfigDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not get user config dir: %v. Using current directory.\n", err)
		userConfigDirBase = "."
	}

	paths.ConfigDir = filepath.Join(userConfigDirBase, "capturekit")
	logDir := filepath.Join(paths.ConfigDir, "logs")

	paths.LogPathApp = filepath.Join(logDir, "app.log")
	paths.LogPathCapture = filepath.Join(logDir, "capture.log")
	paths.CACertPath = filepath.Join(paths.ConfigDir, "capturekit-ca.crt")
	paths.CAKeyPath = filepath.Join(paths.ConfigDir, "capturekit-ca.key")
	paths.DBPath = filepath.Join(paths.ConfigDir, "capturekit.db")
	paths.LogLevel = "INFO"
	return paths
}

func setDefaults(v *viper.Viper, defaults DefaultPaths) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", defaults.DBPath)
	v.SetDefault("database.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("database.mongo_database", "capturekit")
	v.SetDefault("server.port", "8778")
	v.SetDefault("server.log_path", defaults.LogPathApp)
	v.SetDefault("capture.log_path", defaults.LogPathCapture)
	v.SetDefault("logging.level", defaults.LogLevel)
	v.SetDefault("proxy.port", "8777")
	v.SetDefault("proxy.host_pattern", `(^|\.)xiaohongshu\.com$`)
	v.SetDefault("proxy.ca_cert_path", defaults.CACertPath)
	v.SetDefault("proxy.ca_key_path", defaults.CAKeyPath)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl_seconds", 86400)
	v.SetDefault("redis.key_prefix", "capturekit:exchange:")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "captured-exchanges")
	v.SetDefault("kafka.group_id", "capturekit")
	v.SetDefault("classifier.rules_file", "")
	v.SetDefault("ingest.max_comment_depth", 64)
	v.SetDefault("ingest.concurrency", 4)
}

// loadDotEnv loads ./.env into the process environment without overriding
// variables that are already set.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: Could not load .env file: %v\n", err)
	}
}

// Load builds a Configuration from defaults, the optional config file and
// the environment. It does not touch loggers or the filesystem beyond reading.
func Load(cfgFile string) (Configuration, string, error) {
	loadDotEnv()

	v := viper.New()
	defaults := GetDefaultConfigPaths()
	setDefaults(v, defaults)

	if cfgFile != "" {
		expandedCfgFile, err := expandTilde(cfgFile)
		if err != nil {
			expandedCfgFile = cfgFile
		}
		v.SetConfigFile(expandedCfgFile)
		v.SetConfigType("yaml")
	} else {
		v.AddConfigPath(defaults.ConfigDir)
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("CAPTUREKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configUsedMsg := "Using default/environment configuration."
	if readErr := v.ReadInConfig(); readErr == nil {
		configUsedMsg = fmt.Sprintf("Using config file: %s", v.ConfigFileUsed())
	} else {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(readErr, &notFound) {
			if cfgFile != "" {
				return Configuration{}, "", fmt.Errorf("config file %s not found: %w", cfgFile, readErr)
			}
		} else if cfgFile != "" || !errors.Is(readErr, fs.ErrNotExist) {
			return Configuration{}, "", fmt.Errorf("error reading config file %s: %w", v.ConfigFileUsed(), readErr)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return Configuration{}, "", fmt.Errorf("unable to decode config into struct: %w", err)
	}

	// Env values for list keys arrive as one comma separated string.
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}

	for _, p := range []*string{&cfg.Database.Path, &cfg.Server.LogPath, &cfg.Capture.LogPath,
		&cfg.Proxy.CACertPath, &cfg.Proxy.CAKeyPath, &cfg.Classifier.RulesFile} {
		expanded, err := expandTilde(*p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not expand tilde in '%s': %v.\n", *p, err)
			continue
		}
		*p = expanded
	}
	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Ingest.MaxCommentDepth <= 0 {
		cfg.Ingest.MaxCommentDepth = 64
	}
	if cfg.Ingest.Concurrency <= 0 {
		cfg.Ingest.Concurrency = 1
	}
	return cfg, configUsedMsg, nil
}

// Init loads the configuration into AppConfig, applies flag overrides and
// re-initializes the global loggers with the final paths.
func Init(cfgFile string, flagAppLogPath, flagCaptureLogPath, flagLogLevel string) error {
	cfg, configUsedMsg, err := Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: %v\n", err)
		return err
	}

	if flagAppLogPath != "" {
		if cfg.Server.LogPath, err = expandTilde(flagAppLogPath); err != nil {
			cfg.Server.LogPath = flagAppLogPath
		}
	}
	if flagCaptureLogPath != "" {
		if cfg.Capture.LogPath, err = expandTilde(flagCaptureLogPath); err != nil {
			cfg.Capture.LogPath = flagCaptureLogPath
		}
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = strings.ToUpper(flagLogLevel)
	}
	AppConfig = cfg

	if err := logger.InitGlobalLoggers(AppConfig.Server.LogPath, AppConfig.Capture.LogPath, AppConfig.Logging.Level); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to initialize global loggers with final config: %v\n", err)
		return fmt.Errorf("failed to initialize global loggers with final config: %w", err)
	}

	logger.Info("%s", configUsedMsg)
	if flagAppLogPath != "" || flagCaptureLogPath != "" || flagLogLevel != "" {
		logger.Info("Log path/level flags may have overridden config file/defaults.")
	}
	if AppConfig.Redis.Enabled {
		logger.Info("Exchange de-duplication ENABLED via redis at %s", AppConfig.Redis.Addr)
	}
	if AppConfig.Classifier.RulesFile != "" {
		logger.Info("Classifier rules will be loaded from %s", AppConfig.Classifier.RulesFile)
	}
	logger.Debug("Final AppConfig Initialized: %+v", AppConfig)
	return nil
}
