package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/HendryAvila/plotline/internal/logging"
)

const (
	// ProjectConfigFile is looked for in the working directory and its parents.
	ProjectConfigFile = "plotline.yaml"
	UserConfigDir     = ".config/plotline"
	UserConfigFile    = "config.yaml"
	// EnvPrefix starts every environment override.
	EnvPrefix = "PLOTLINE_"
)

// Loader builds a Config from defaults, the user file, the project file
// and the environment, in that order.
type Loader struct {
	log *logging.Logger

	// UserPath overrides ~/.config/plotline/config.yaml.
	UserPath string
	// WorkDir is where the project file search starts; empty means cwd.
	WorkDir string
	// Getenv reads overrides; nil means os.Getenv.
	Getenv func(string) string
}

func NewLoader(log *logging.Logger) *Loader {
	return &Loader{log: logging.OrNop(log).Named("config")}
}

// Load returns the layered, validated configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if path := l.userConfigPath(); path != "" {
		if user, err := LoadFromFile(path); err == nil {
			l.log.Debug("loaded user config", "path", path)
			cfg.Merge(user)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if path := l.findProjectConfig(); path != "" {
		proj, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		l.log.Debug("loaded project config", "path", path)
		if proj.Rules.Dir != "" && !filepath.IsAbs(proj.Rules.Dir) {
			proj.Rules.Dir = filepath.Join(filepath.Dir(path), proj.Rules.Dir)
		}
		cfg.Merge(proj)
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureUserConfig writes the defaults to the user file unless it exists.
func (l *Loader) EnsureUserConfig() (string, error) {
	path := l.userConfigPath()
	if path == "" {
		return "", errors.New("no home directory for the user config")
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := DefaultConfig().SaveToFile(path); err != nil {
		return "", err
	}
	l.log.Info("created default user config", "path", path)
	return path, nil
}

func (l *Loader) userConfigPath() string {
	if l.UserPath != "" {
		return l.UserPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

func (l *Loader) findProjectConfig() string {
	dir := l.WorkDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return ""
		}
		dir = cwd
	}
	for {
		path := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func (l *Loader) applyEnv(cfg *Config) error {
	get := l.Getenv
	if get == nil {
		get = os.Getenv
	}
	env := func(name string) (string, bool) {
		v := strings.TrimSpace(get(EnvPrefix + name))
		return v, v != ""
	}

	if v, ok := env("DATA_DIR"); ok {
		cfg.Data.Dir = v
	}
	if v, ok := env("IN_MEMORY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sIN_MEMORY: %w", EnvPrefix, err)
		}
		cfg.Data.InMemory = b
	}
	if v, ok := env("RULES_DIR"); ok {
		cfg.Rules.Dir = v
	}
	if v, ok := env("RULES_WATCH"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sRULES_WATCH: %w", EnvPrefix, err)
		}
		cfg.Rules.Watch = b
	}
	if v, ok := env("MAX_SUGGESTIONS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_SUGGESTIONS: %w", EnvPrefix, err)
		}
		cfg.Selection.MaxSuggestions = n
	}
	if v, ok := env("OPERATION_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sOPERATION_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.Dispatch.OperationTimeout = d
	}
	if v, ok := env("HTTP_ADDR"); ok {
		cfg.HTTP.Addr = v
	}
	if v, ok := env("REDIS_ADDR"); ok {
		cfg.Redis.Addr = v
	}
	if v, ok := env("REDIS_PASSWORD"); ok {
		cfg.Redis.Password = v
	}
	if v, ok := env("LOG_MODE"); ok {
		cfg.Log.Mode = v
	}
	if v, ok := env("LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	return nil
}
