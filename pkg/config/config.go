// Package config loads diabeteskit settings from defaults, a YAML file,
// DIABETESKIT_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/pkg/log"
	"github.com/YuminosukeSato/diabeteskit/sklearn/model_selection"
	"github.com/YuminosukeSato/diabeteskit/sklearn/registry"
)

// EnvPrefix is the prefix of environment overrides, e.g. DIABETESKIT_SERVER_ADDR.
const EnvPrefix = "DIABETESKIT"

// Config is the full configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Data      DataConfig      `mapstructure:"data"`
	Search    SearchConfig    `mapstructure:"search"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Report    ReportConfig    `mapstructure:"report"`
	Server    ServerConfig    `mapstructure:"server"`
}

// LogConfig selects the log level and output format ("console" or "json").
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DataConfig describes the training CSV and the holdout split.
type DataConfig struct {
	Path     string  `mapstructure:"path"`
	Label    string  `mapstructure:"label"`
	TestSize float64 `mapstructure:"test_size"`
	Seed     uint64  `mapstructure:"seed"`
}

// SearchConfig configures the candidate search.
type SearchConfig struct {
	Folds   int          `mapstructure:"folds"`
	Scoring string       `mapstructure:"scoring"`
	NJobs   int          `mapstructure:"n_jobs"`
	Seed    uint64       `mapstructure:"seed"`
	Grid    []GridConfig `mapstructure:"grid"`
}

// GridConfig is the grid of one model family. A null value in Params means
// "unlimited" for the parameters that support it.
type GridConfig struct {
	Family string                   `mapstructure:"family"`
	Params map[string][]interface{} `mapstructure:"params"`
}

// ArtifactsConfig locates the artifact store.
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir"`
}

// ReportConfig controls the training reports.
type ReportConfig struct {
	Dir     string `mapstructure:"dir"`
	Enabled bool   `mapstructure:"enabled"`
	ROC     bool   `mapstructure:"roc"`
}

// ServerConfig configures the HTTP server. A zero ReloadInterval disables
// periodic reloads.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ReloadInterval time.Duration `mapstructure:"reload_interval"`
}

// DefaultGrid mirrors model_selection.DefaultGrids in config form.
func DefaultGrid() []GridConfig {
	grids := model_selection.DefaultGrids()
	out := make([]GridConfig, len(grids))
	for i, g := range grids {
		params := make(map[string][]interface{}, len(g.Grid))
		for k, v := range g.Grid {
			params[k] = append([]interface{}(nil), v...)
		}
		out[i] = GridConfig{Family: g.Family, Params: params}
	}
	return out
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("data.path", "diabetes_dataset.csv")
	v.SetDefault("data.label", "diabetes")
	v.SetDefault("data.test_size", 0.2)
	v.SetDefault("data.seed", 42)

	v.SetDefault("search.folds", model_selection.DefaultFolds)
	v.SetDefault("search.scoring", model_selection.DefaultScoring)
	v.SetDefault("search.n_jobs", 0)
	v.SetDefault("search.seed", model_selection.DefaultRandomSeed)

	v.SetDefault("artifacts.dir", "artifacts")

	v.SetDefault("report.dir", "reports")
	v.SetDefault("report.enabled", true)
	v.SetDefault("report.roc", true)

	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.request_timeout", 5*time.Second)
	v.SetDefault("server.reload_interval", time.Duration(0))
}

// NewViper returns a viper instance with defaults and environment overrides
// configured. Nested keys map to env names with "_", e.g.
// DIABETESKIT_SEARCH_N_JOBS.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile reads the config file into v. With an explicit path the file must
// exist; otherwise ./diabeteskit.yaml and $HOME/.config/diabeteskit/config.yaml
// are tried and their absence is not an error. It returns the file used, if any.
func ReadFile(v *viper.Viper, path string) (string, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return "", errors.Wrapf(err, "read config %s", path)
		}
		return v.ConfigFileUsed(), nil
	}

	candidates := []string{"diabeteskit.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "diabeteskit", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err != nil {
			continue
		}
		v.SetConfigFile(c)
		if err := v.ReadInConfig(); err != nil {
			return "", errors.Wrapf(err, "read config %s", c)
		}
		return c, nil
	}
	return "", nil
}

// Load decodes v into a Config and validates it. An absent search.grid means
// the default grid.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if len(cfg.Search.Grid) == 0 {
		cfg.Search.Grid = DefaultGrid()
	}
	grid, err := canonicalGrid(registry.Default(), cfg.Search.Grid)
	if err != nil {
		return nil, err
	}
	cfg.Search.Grid = grid
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the validated default configuration.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate rejects values that would fail later at run time.
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.NewValidationError("log.level", "must be debug, info, warn or error", c.Log.Level)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return errors.NewValidationError("log.format", "must be console or json", c.Log.Format)
	}
	if c.Data.Label == "" {
		return errors.NewValidationError("data.label", "must not be empty", c.Data.Label)
	}
	if c.Data.TestSize <= 0 || c.Data.TestSize >= 1 {
		return errors.NewValidationError("data.test_size", "must be in (0, 1)", c.Data.TestSize)
	}
	if c.Search.Folds < 2 {
		return errors.NewValidationError("search.folds", "must be at least 2", c.Search.Folds)
	}
	if _, err := model_selection.GetScorer(c.Search.Scoring); err != nil {
		return errors.NewValidationError("search.scoring",
			"must be one of "+strings.Join(model_selection.ScoringNames(), ", "), c.Search.Scoring)
	}
	if c.Search.NJobs < 0 {
		return errors.NewValidationError("search.n_jobs", "must be non-negative", c.Search.NJobs)
	}
	reg := registry.Default()
	for i, g := range c.Search.Grid {
		if !reg.Has(g.Family) {
			return errors.NewValidationError("search.grid.family",
				"must be one of "+strings.Join(reg.Families(), ", "), g.Family)
		}
		for k, values := range g.Params {
			if len(values) == 0 {
				return errors.NewValidationError("search.grid.params",
					"grid "+g.Family+" has no values for "+k, i)
			}
		}
	}
	if c.Artifacts.Dir == "" {
		return errors.NewValidationError("artifacts.dir", "must not be empty", c.Artifacts.Dir)
	}
	if c.Report.Enabled && c.Report.Dir == "" {
		return errors.NewValidationError("report.dir", "must not be empty when reports are enabled", c.Report.Dir)
	}
	if c.Server.Addr == "" {
		return errors.NewValidationError("server.addr", "must not be empty", c.Server.Addr)
	}
	if c.Server.RequestTimeout <= 0 {
		return errors.NewValidationError("server.request_timeout", "must be positive", c.Server.RequestTimeout)
	}
	if c.Server.ReloadInterval < 0 {
		return errors.NewValidationError("server.reload_interval", "must not be negative", c.Server.ReloadInterval)
	}
	return nil
}

// Grids converts the configured grid to search input, in configuration order.
func (c SearchConfig) Grids() []model_selection.FamilyGrid {
	out := make([]model_selection.FamilyGrid, len(c.Grid))
	for i, g := range c.Grid {
		grid := make(model_selection.ParamGrid, len(g.Params))
		for k, v := range g.Params {
			grid[k] = append([]interface{}(nil), v...)
		}
		out[i] = model_selection.FamilyGrid{Family: g.Family, Grid: grid}
	}
	return out
}

// Families returns the configured family names, sorted.
func (c SearchConfig) Families() []string {
	out := make([]string, len(c.Grid))
	for i, g := range c.Grid {
		out[i] = g.Family
	}
	sort.Strings(out)
	return out
}

// canonicalGrid restores the case of parameter names. Viper lowercases map
// keys, so "C" arrives as "c"; the estimator's own parameter names decide.
func canonicalGrid(reg *registry.Registry, grid []GridConfig) ([]GridConfig, error) {
	out := make([]GridConfig, len(grid))
	for i, g := range grid {
		if !reg.Has(g.Family) {
			return nil, errors.NewValidationError("search.grid.family",
				"must be one of "+strings.Join(reg.Families(), ", "), g.Family)
		}
		clf, err := reg.Build(g.Family, nil, 0)
		if err != nil {
			return nil, err
		}
		names := make(map[string]string)
		for k := range clf.GetParams() {
			names[strings.ToLower(k)] = k
		}
		params := make(map[string][]interface{}, len(g.Params))
		for k, v := range g.Params {
			name, ok := names[strings.ToLower(k)]
			if !ok {
				return nil, errors.NewValidationError("search.grid.params", "unknown parameter for "+g.Family, k)
			}
			params[name] = v
		}
		out[i] = GridConfig{Family: g.Family, Params: params}
	}
	return out, nil
}

// NewLoggerProvider builds the zerolog provider described by c.
func (c LogConfig) NewLoggerProvider(opts ...log.ProviderOption) (*log.ZerologProvider, error) {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts = append(opts, log.WithConsole(c.Format == "console"))
	return log.NewZerologProvider(level, opts...), nil
}
