package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	appDirName      = ".oserv"
	appConfigName   = "cli_config"
	appConfigEnv    = "OSERV_CLI_CONFIG"
	DefaultGraphURL = "https://graph.microsoft.com/v1.0"

	ContainerPolicyFresh = "fresh"
	ContainerPolicyReuse = "reuse"
)

type AppConfig struct {
	LogLevel        string `mapstructure:"log_level"`
	Backend         string `mapstructure:"backend"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialName  string `mapstructure:"credential_name"`

	GraphAPIURL  string `mapstructure:"graph_api_url"`
	SiteID       string `mapstructure:"site_id"`
	DrivePath    string `mapstructure:"drive_path"`
	RootFolderID string `mapstructure:"root_folder_id"`

	LocalFSRoot string `mapstructure:"localfs_root"`

	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Prefix   string `mapstructure:"s3_prefix"`
	S3Region   string `mapstructure:"s3_region"`
	S3Endpoint string `mapstructure:"s3_endpoint"`

	ChunkSize          int64  `mapstructure:"chunk_size"`
	ChunkThreshold     int64  `mapstructure:"chunk_threshold"`
	ChunkRetries       int    `mapstructure:"chunk_retries"`
	ContainerPolicy    string `mapstructure:"container_policy"`
	ShowProgress       bool   `mapstructure:"show_progress"`
	MetricsTextfile    string `mapstructure:"metrics_textfile"`
	TokenExpiryWarning int    `mapstructure:"token_expiry_warning"`
}

// DefaultAppConfigPath is where the CLI config lives when --app-config is not given.
func DefaultAppConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, appDirName, appConfigName+".toml"), nil
}

func setAppDefaults(v *viper.Viper, home string) {
	v.SetDefault("log_level", "info")
	v.SetDefault("backend", "graph")
	v.SetDefault("credentials_file", filepath.Join(home, appDirName, "credentials_store.toml"))
	v.SetDefault("credential_name", "")
	v.SetDefault("graph_api_url", DefaultGraphURL)
	v.SetDefault("site_id", "")
	v.SetDefault("drive_path", "")
	v.SetDefault("root_folder_id", "")
	v.SetDefault("localfs_root", filepath.Join(home, appDirName, "store"))
	v.SetDefault("s3_bucket", "")
	v.SetDefault("s3_prefix", "")
	v.SetDefault("s3_region", "us-east-1")
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("chunk_size", 10*1024*1024)
	v.SetDefault("chunk_threshold", 4*1024*1024)
	v.SetDefault("chunk_retries", 0)
	v.SetDefault("container_policy", ContainerPolicyFresh)
	v.SetDefault("show_progress", true)
	v.SetDefault("metrics_textfile", "")
	v.SetDefault("token_expiry_warning", 300)
}

func LoadAppConfig(configPath string) (*AppConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	v, err := initViper(configPath, filepath.Join(home, appDirName), appConfigName, "toml", appConfigEnv)
	if err != nil {
		return nil, err
	}
	setAppDefaults(v, home)

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CredentialsFile = expandPath(cfg.CredentialsFile)
	cfg.LocalFSRoot = expandPath(cfg.LocalFSRoot)
	cfg.MetricsTextfile = expandPath(cfg.MetricsTextfile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Create-on-first-run only: nothing was read, so persist the defaults.
	if v.ConfigFileUsed() == "" {
		writePath := configPath
		if writePath == "" {
			writePath = filepath.Join(home, appDirName, appConfigName+".toml")
		}
		if _, statErr := os.Stat(writePath); errors.Is(statErr, os.ErrNotExist) {
			if _, err := cfg.Save(writePath); err != nil {
				return nil, fmt.Errorf("persist default app config: %w", err)
			}
			Info("client config written", Fields{
				ConfigPath: writePath,
			})
		}
	}

	return &cfg, nil
}

func (cfg *AppConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "graph", "localfs", "s3":
	default:
		return fmt.Errorf("unknown backend %q (want graph, localfs or s3)", cfg.Backend)
	}
	switch cfg.ContainerPolicy {
	case ContainerPolicyFresh, ContainerPolicyReuse:
	default:
		return fmt.Errorf("unknown container_policy %q (want %s or %s)", cfg.ContainerPolicy, ContainerPolicyFresh, ContainerPolicyReuse)
	}
	if cfg.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.ChunkThreshold < 0 {
		return fmt.Errorf("chunk_threshold must not be negative, got %d", cfg.ChunkThreshold)
	}
	if cfg.ChunkRetries < 0 {
		return fmt.Errorf("chunk_retries must not be negative, got %d", cfg.ChunkRetries)
	}
	return nil
}

func initViper(configPath, defaultDir, defaultName, defaultType, envPrefix string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType(defaultType)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(defaultDir)
		v.AddConfigPath(".")
		v.SetConfigName(defaultName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		// An explicit path that does not exist yet is created on first run.
		if configPath != "" && errors.Is(err, os.ErrNotExist) {
			return v, nil
		}
		Error("could not read config file", WithError(Fields{ConfigPath: configPath}, err))
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

func (cfg *AppConfig) Save(path string) (string, error) {
	if path == "" {
		p, err := DefaultAppConfigPath()
		if err != nil {
			return "", err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("log_level", cfg.LogLevel)
	v.Set("backend", cfg.Backend)
	v.Set("credentials_file", cfg.CredentialsFile)
	v.Set("credential_name", cfg.CredentialName)
	v.Set("graph_api_url", cfg.GraphAPIURL)
	v.Set("site_id", cfg.SiteID)
	v.Set("drive_path", cfg.DrivePath)
	v.Set("root_folder_id", cfg.RootFolderID)
	v.Set("localfs_root", cfg.LocalFSRoot)
	v.Set("s3_bucket", cfg.S3Bucket)
	v.Set("s3_prefix", cfg.S3Prefix)
	v.Set("s3_region", cfg.S3Region)
	v.Set("s3_endpoint", cfg.S3Endpoint)
	v.Set("chunk_size", cfg.ChunkSize)
	v.Set("chunk_threshold", cfg.ChunkThreshold)
	v.Set("chunk_retries", cfg.ChunkRetries)
	v.Set("container_policy", cfg.ContainerPolicy)
	v.Set("show_progress", cfg.ShowProgress)
	v.Set("metrics_textfile", cfg.MetricsTextfile)
	v.Set("token_expiry_warning", cfg.TokenExpiryWarning)

	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write app config: %w", err)
	}
	_ = os.Chmod(path, 0o600)
	return path, nil
}

func expandPath(p string) string {
	if p == "" {
		return p
	}
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
