package config

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/withObsrvr/obsrvr-fast-flux/internal/audit"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/diag"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/logging"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/metadata"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/metrics"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/schema"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/storage"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/summary"
)

// EnvPrefix prefixes every environment override, e.g. FASTFLUX_RUN_WORKERS.
const EnvPrefix = "FASTFLUX"

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Run        RunConfig              `yaml:"run"`
	Sites      []SiteConfig           `yaml:"sites"`
	Summary    SummaryConfig          `yaml:"summary"`
	Storage    storage.StorageConfig  `yaml:"storage"`
	Checkpoint checkpoint.Config      `yaml:"checkpoint"`
	Metadata   metadata.CatalogConfig `yaml:"metadata"`
	Audit      audit.Config           `yaml:"audit"`
	Metrics    metrics.Config         `yaml:"metrics"`
	Logging    logging.Config         `yaml:"logging"`
}

type RunConfig struct {
	Start             Time     `yaml:"start"`
	End               Time     `yaml:"end"`
	FileLength        int      `yaml:"file_length" split_words:"true"` // minutes
	AcqFreq           float64  `yaml:"acq_freq" split_words:"true"`    // Hz
	Workers           int      `yaml:"workers"`
	DecodeParallelism int      `yaml:"decode_parallelism" split_words:"true"`
	MaxRetries        int      `yaml:"max_retries" split_words:"true"`
	AllowOverwrite    bool     `yaml:"allow_overwrite" split_words:"true"`
	Resume            bool     `yaml:"resume"`
	RowIDColumns      []string `yaml:"row_id_columns" split_words:"true"`
	Compression       string   `yaml:"compression"`
	ProgressEvery     int      `yaml:"progress_every" split_words:"true"`
}

type SiteConfig struct {
	Name        string        `yaml:"name"`
	Dir         string        `yaml:"dir"`
	BucketURL   string        `yaml:"bucket_url"`
	Prefix      string        `yaml:"prefix"`
	Header      []string      `yaml:"header"`
	Rules       []RuleConfig  `yaml:"rules"`
	Instruments diag.Registry `yaml:"instruments"`
	Logger      LoggerConfig  `yaml:"logger"`
}

// LoggerConfig names the data logger of a site. Empty fields fall back to
// the TOA5 environment line of the raw files.
type LoggerConfig struct {
	Model  string `yaml:"model"`
	Serial string `yaml:"serial"`
}

type RuleConfig struct {
	ID          string            `yaml:"id"`
	Start       Time              `yaml:"start"`
	End         Time              `yaml:"end"`
	Add         []string          `yaml:"add"`
	Rename      map[string]string `yaml:"rename"`
	Maintenance bool              `yaml:"maintenance"`
}

type SummaryConfig struct {
	Enabled   bool         `yaml:"enabled"`
	Format    string       `yaml:"format"` // parquet | xlsx
	Variables []string     `yaml:"variables"`
	Flags     []FlagConfig `yaml:"flags"`
}

type FlagConfig struct {
	ID     string   `yaml:"id"`
	Start  Time     `yaml:"start"`
	End    Time     `yaml:"end"`
	Sites  []string `yaml:"sites"`
	Reason string   `yaml:"reason"`
}

// Load reads .env (if present), the YAML file at path and then environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	log.Println("[config] loading", path)

	// A missing .env is normal.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML and fills defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	return cfg, nil
}

// Default returns a configuration with every optional field set.
func Default() *Config {
	return &Config{
		Run: RunConfig{
			FileLength:        5,
			AcqFreq:           10,
			Workers:           2,
			DecodeParallelism: 4,
			MaxRetries:        3,
			RowIDColumns:      []string{"TIMESTAMP", "RECORD"},
			Compression:       "zstd",
			ProgressEvery:     100,
		},
		Summary: SummaryConfig{
			Enabled: true,
			Format:  "parquet",
		},
		Storage: storage.StorageConfig{
			Backend: "local",
		},
		Metadata: metadata.CatalogConfig{
			Backend: "none",
		},
		Metrics: metrics.Config{
			Namespace: "fast_flux",
		},
		Logging: logging.Config{
			Format: "text",
			Level:  "info",
		},
	}
}

func (c *Config) fillDefaults() {
	if len(c.Summary.Variables) == 0 {
		c.Summary.Variables = append([]string(nil), schema.DefaultVariables...)
	}
}

// ApplyEnv overrides scalar sections from FASTFLUX_<SECTION>_<FIELD>
// variables, with multi-word fields split on case (FASTFLUX_RUN_FILE_LENGTH,
// FASTFLUX_STORAGE_LOCAL_DIR). Unset variables leave the file values alone.
func (c *Config) ApplyEnv() error {
	sections := []struct {
		name string
		spec any
	}{
		{"RUN", &c.Run},
		{"STORAGE", &c.Storage},
		{"CHECKPOINT", &c.Checkpoint},
		{"METADATA", &c.Metadata},
		{"AUDIT", &c.Audit},
		{"METRICS", &c.Metrics},
		{"LOGGING", &c.Logging},
	}
	for _, s := range sections {
		if err := envconfig.Process(EnvPrefix+"_"+s.name, s.spec); err != nil {
			return fmt.Errorf("env overrides for %s: %w", s.name, err)
		}
	}
	return nil
}

// Period returns the acquisition period.
func (c *Config) Period() time.Duration {
	return time.Duration(float64(time.Second) / c.Run.AcqFreq)
}

// IntervalLength returns the output interval duration.
func (c *Config) IntervalLength() time.Duration {
	return time.Duration(c.Run.FileLength) * time.Minute
}

// NRecords returns the fixed row count of every output interval.
func (c *Config) NRecords() int {
	return int(math.Round(float64(c.Run.FileLength) * c.Run.AcqFreq * 60))
}

// Intervals returns the grid start, start+d, ... while t <= end.
func (c *Config) Intervals() []time.Time {
	return Grid(c.Run.Start.Time, c.Run.End.Time, c.IntervalLength())
}

// Grid steps from start by d while t <= end.
func Grid(start, end time.Time, d time.Duration) []time.Time {
	if d <= 0 || end.Before(start) {
		return nil
	}
	var out []time.Time
	for t := start; !t.After(end); t = t.Add(d) {
		out = append(out, t)
	}
	return out
}

// SiteNames returns the site names in configuration order.
func (c *Config) SiteNames() []string {
	names := make([]string, len(c.Sites))
	for i, s := range c.Sites {
		names[i] = s.Name
	}
	return names
}

// Site returns the named site.
func (c *Config) Site(name string) (*SiteConfig, bool) {
	for i := range c.Sites {
		if c.Sites[i].Name == name {
			return &c.Sites[i], true
		}
	}
	return nil, false
}

// SchemaRules converts the rule table.
func (s SiteConfig) SchemaRules() []schema.Rule {
	rules := make([]schema.Rule, len(s.Rules))
	for i, r := range s.Rules {
		rules[i] = schema.Rule{
			ID:          r.ID,
			Start:       r.Start.Time,
			End:         r.End.Time,
			Add:         r.Add,
			Rename:      r.Rename,
			Maintenance: r.Maintenance,
		}
	}
	return rules
}

// Router builds the site's rule router. A site without rules gets a single
// pass-through rule.
func (s SiteConfig) Router() (*schema.Router, error) {
	rules := s.SchemaRules()
	if len(rules) == 0 {
		rules = []schema.Rule{{ID: "default"}}
	}
	r, err := schema.NewRouter(rules)
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", s.Name, err)
	}
	return r, nil
}

// Harmonizer builds the harmonizer for every site.
func (c *Config) Harmonizer() (*schema.Harmonizer, error) {
	sites := make([]*schema.Site, 0, len(c.Sites))
	for _, s := range c.Sites {
		r, err := s.Router()
		if err != nil {
			return nil, err
		}
		sites = append(sites, &schema.Site{Name: s.Name, Header: s.Header, Router: r})
	}
	return schema.NewHarmonizer(c.Period(), sites...), nil
}

// FlagWindows converts the configured quality flag windows.
func (c *Config) FlagWindows() []summary.FlagWindow {
	out := make([]summary.FlagWindow, len(c.Summary.Flags))
	for i, f := range c.Summary.Flags {
		out[i] = summary.FlagWindow{
			ID:     f.ID,
			Start:  f.Start.Time,
			End:    f.End.Time,
			Sites:  f.Sites,
			Reason: f.Reason,
		}
	}
	return out
}
