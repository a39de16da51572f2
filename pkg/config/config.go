// Package config loads automount settings from defaults, an optional
// config file and AUTOMOUNT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	AppName   = "automount"
	EnvPrefix = "AUTOMOUNT"
)

type Config struct {
	// Automount is enabled or disabled (1/0, true/false, on/off are
	// accepted too).
	Automount     string   `mapstructure:"automount"`
	Interpreter   string   `mapstructure:"interpreter"`
	PythonPath    []string `mapstructure:"python_path"`
	SDKPackage    string   `mapstructure:"sdk_package"`
	AllowPackages []string `mapstructure:"allow_packages"`
	DenyPackages  []string `mapstructure:"deny_packages"`
	// ExternalPackages are directories of non-editable installs kept
	// outside the interpreter's prefixes, such as a pdm package cache.
	// Nothing under them is auto-mounted.
	ExternalPackages        []string `mapstructure:"external_packages"`
	IncludeSerializedOrigin bool     `mapstructure:"include_serialized_origin"`
	RemoteRoot              string   `mapstructure:"remote_root"`
	Exclude                 []string `mapstructure:"exclude"`
	// Workers bounds mounts built at once; HashWorkers bounds file
	// reads within one mount. Zero means NumCPU.
	Workers     int  `mapstructure:"workers"`
	HashWorkers int  `mapstructure:"hash_workers"`
	FailFast    bool `mapstructure:"fail_fast"`

	Server Server `mapstructure:"server"`
	Store  Store  `mapstructure:"store"`
	Log    Log    `mapstructure:"log"`
}

type Server struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
	// TokenCommand prints a token when Token is empty.
	TokenCommand string        `mapstructure:"token_command"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Retries      int           `mapstructure:"retries"`
	// Listen is the address mountd binds.
	Listen string `mapstructure:"listen"`
}

type Store struct {
	// Kind is memory, disk or s3.
	Kind string  `mapstructure:"kind"`
	Dir  string  `mapstructure:"dir"`
	S3   S3Store `mapstructure:"s3"`
}

type S3Store struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

type Log struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

func Default() Config {
	return Config{
		Automount:               "enabled",
		Interpreter:             "python3",
		SDKPackage:              "modal",
		IncludeSerializedOrigin: true,
		RemoteRoot:              "/root",
		Server: Server{
			URL:     "http://127.0.0.1:8686",
			Timeout: 5 * time.Minute,
			Retries: 5,
			Listen:  "127.0.0.1:8686",
		},
		Store: Store{
			Kind: "memory",
			S3: S3Store{
				Region: "us-east-1",
				Bucket: "automount",
			},
		},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

type LoadOptions struct {
	// File is used exclusively when set.
	File string
	// Dirs are searched for automount.{yaml,toml,json} when File is
	// empty. Defaults to the working directory and ConfigDir.
	Dirs []string
}

// ConfigDir is $XDG_CONFIG_HOME/automount, or ~/.config/automount.
func ConfigDir() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("home directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, AppName), nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("automount", d.Automount)
	v.SetDefault("interpreter", d.Interpreter)
	v.SetDefault("python_path", d.PythonPath)
	v.SetDefault("sdk_package", d.SDKPackage)
	v.SetDefault("allow_packages", d.AllowPackages)
	v.SetDefault("deny_packages", d.DenyPackages)
	v.SetDefault("external_packages", d.ExternalPackages)
	v.SetDefault("include_serialized_origin", d.IncludeSerializedOrigin)
	v.SetDefault("remote_root", d.RemoteRoot)
	v.SetDefault("exclude", d.Exclude)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("hash_workers", d.HashWorkers)
	v.SetDefault("fail_fast", d.FailFast)
	v.SetDefault("server.url", d.Server.URL)
	v.SetDefault("server.token", d.Server.Token)
	v.SetDefault("server.token_command", d.Server.TokenCommand)
	v.SetDefault("server.timeout", d.Server.Timeout)
	v.SetDefault("server.retries", d.Server.Retries)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("store.kind", d.Store.Kind)
	v.SetDefault("store.dir", d.Store.Dir)
	v.SetDefault("store.s3.endpoint", d.Store.S3.Endpoint)
	v.SetDefault("store.s3.bucket", d.Store.S3.Bucket)
	v.SetDefault("store.s3.region", d.Store.S3.Region)
	v.SetDefault("store.s3.access_key", d.Store.S3.AccessKey)
	v.SetDefault("store.s3.secret_key", d.Store.S3.SecretKey)
	v.SetDefault("store.s3.prefix", d.Store.S3.Prefix)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
}

// Load resolves the configuration. A missing config file is not an
// error; a malformed one is. It returns the file used, if any.
func Load(opts LoadOptions) (*Config, string, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("read config %s: %w", opts.File, err)
		}
	} else {
		dirs := opts.Dirs
		if dirs == nil {
			dirs = []string{"."}
			if d, err := ConfigDir(); err == nil {
				dirs = append(dirs, d)
			}
		}
		v.SetConfigName(AppName)
		for _, d := range dirs {
			v.AddConfigPath(d)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, "", fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, v.ConfigFileUsed(), nil
}

func (c *Config) Validate() error {
	if _, err := ParseToggle(c.Automount); err != nil {
		return fmt.Errorf("automount: %w", err)
	}
	switch c.Store.Kind {
	case "memory", "disk", "s3":
	default:
		return fmt.Errorf("store.kind: unknown store %q", c.Store.Kind)
	}
	if c.Store.Kind == "disk" && c.Store.Dir == "" {
		return errors.New("store.dir is required for the disk store")
	}
	if c.Workers < 0 || c.HashWorkers < 0 {
		return errors.New("workers must not be negative")
	}
	return nil
}

// AutomountEnabled reports the parsed automount toggle.
func (c *Config) AutomountEnabled() bool {
	on, err := ParseToggle(c.Automount)
	return err == nil && on
}

// DeniedPackages is the deny list with the SDK package added.
func (c *Config) DeniedPackages() []string {
	out := append([]string(nil), c.DenyPackages...)
	if c.SDKPackage != "" {
		out = append(out, c.SDKPackage)
	}
	return out
}

// ParseToggle reads an on/off setting. Empty means enabled.
func ParseToggle(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "enabled", "enable", "1", "true", "on", "yes":
		return true, nil
	case "disabled", "disable", "0", "false", "off", "no":
		return false, nil
	}
	return false, fmt.Errorf("unrecognized toggle %q (want enabled or disabled)", s)
}
