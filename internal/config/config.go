package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const dateLayout = "2006-01-02"

// Config represents the application configuration
type Config struct {
	LogLevel    string      `yaml:"log_level"`
	Concurrency int         `yaml:"concurrency"`
	OutputDir   string      `yaml:"output_dir"`
	Checkpoint  Checkpoint  `yaml:"checkpoint"`
	Metrics     Metrics     `yaml:"metrics"`
	Progress    Progress    `yaml:"progress"`
	Publish     Publish     `yaml:"publish"`
	Jobs        []JobConfig `yaml:"jobs"`

	// override holds job parameters given on the command line. They
	// apply to every selected job.
	override JobConfig
}

// Checkpoint selects the restart store
type Checkpoint struct {
	Driver string `yaml:"driver"` // sqlite or file
	Path   string `yaml:"path"`
}

// Metrics configures the prometheus endpoint. An empty address disables it.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Progress configures the periodic progress log
type Progress struct {
	Enabled    bool `yaml:"enabled"`
	IntervalMs int  `yaml:"interval_ms"`
}

// Interval returns the reporting interval
func (p Progress) Interval() time.Duration {
	return time.Duration(p.IntervalMs) * time.Millisecond
}

// Publish represents the S3-compatible bucket finished outputs are
// uploaded to. An empty endpoint disables publishing.
type Publish struct {
	Endpoint       string `yaml:"endpoint"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	Secure         bool   `yaml:"secure"`
	Bucket         string `yaml:"bucket"`
	Prefix         string `yaml:"prefix"`
	Retries        int    `yaml:"retries"`
	RetryBackoffMs int    `yaml:"retry_backoff_ms"`
}

// Enabled reports whether a publish target is configured
func (p Publish) Enabled() bool {
	return p.Endpoint != ""
}

// JobConfig binds a built-in job to its input, parameters and outputs
type JobConfig struct {
	Name            string    `yaml:"name"`
	Input           string    `yaml:"input"`
	SQL             *SQLInput `yaml:"sql"`
	ControlCard     string    `yaml:"control_card"`
	ControlCardFile string    `yaml:"control_card_file"`
	AsOf            string    `yaml:"as_of"`
	Seed            string    `yaml:"seed"`
	CommitInterval  int       `yaml:"commit_interval"`
	RunLimit        int64     `yaml:"run_limit"`
	Report          string    `yaml:"report"`
	Extract         string    `yaml:"extract"`
	XLSX            string    `yaml:"xlsx"`
}

// SQLInput reads the job's records from a key-ordered SQLite table
type SQLInput struct {
	Path       string `yaml:"path"`
	Table      string `yaml:"table"`
	KeyColumn  string `yaml:"key_column"`
	LineColumn string `yaml:"line_column"`
}

// Card returns the control card text, reading ControlCardFile when set
func (j JobConfig) Card() (string, error) {
	if j.ControlCardFile == "" {
		return j.ControlCard, nil
	}
	data, err := os.ReadFile(j.ControlCardFile)
	if err != nil {
		return "", fmt.Errorf("read control card: %w", err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimRight(line, "\r"), nil
}

// Date parses AsOf. A blank AsOf yields the zero time.
func (j JobConfig) Date() (time.Time, error) {
	if j.AsOf == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, j.AsOf)
	if err != nil {
		return time.Time{}, fmt.Errorf("job %s: as_of must be YYYY-MM-DD: %w", j.Name, err)
	}
	return t, nil
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		LogLevel:    "info",
		Concurrency: 4,
		OutputDir:   "./out",
		Checkpoint: Checkpoint{
			Driver: "sqlite",
			Path:   "./checkpoint.db",
		},
		Progress: Progress{
			Enabled:    true,
			IntervalMs: 5000,
		},
		Publish: Publish{
			Retries:        5,
			RetryBackoffMs: 500,
		},
	}

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with command line flags
	if err := loadFromFlags(cfg, flags); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}

	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("output-dir") {
		cfg.OutputDir, _ = flags.GetString("output-dir")
	}
	if flags.Changed("checkpoint-driver") {
		cfg.Checkpoint.Driver, _ = flags.GetString("checkpoint-driver")
	}
	if flags.Changed("checkpoint") {
		cfg.Checkpoint.Path, _ = flags.GetString("checkpoint")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("show-progress") {
		cfg.Progress.Enabled, _ = flags.GetBool("show-progress")
	}
	if flags.Changed("progress-interval-ms") {
		cfg.Progress.IntervalMs, _ = flags.GetInt("progress-interval-ms")
	}

	if flags.Changed("publish-endpoint") {
		cfg.Publish.Endpoint, _ = flags.GetString("publish-endpoint")
	}
	if flags.Changed("publish-access-key") {
		cfg.Publish.AccessKey, _ = flags.GetString("publish-access-key")
	}
	if flags.Changed("publish-secret-key") {
		cfg.Publish.SecretKey, _ = flags.GetString("publish-secret-key")
	}
	if flags.Changed("publish-secure") {
		cfg.Publish.Secure, _ = flags.GetBool("publish-secure")
	}
	if flags.Changed("publish-bucket") {
		cfg.Publish.Bucket, _ = flags.GetString("publish-bucket")
	}
	if flags.Changed("publish-prefix") {
		cfg.Publish.Prefix, _ = flags.GetString("publish-prefix")
	}
	if flags.Changed("retries") {
		cfg.Publish.Retries, _ = flags.GetInt("retries")
	}
	if flags.Changed("retry-backoff-ms") {
		cfg.Publish.RetryBackoffMs, _ = flags.GetInt("retry-backoff-ms")
	}

	o := &cfg.override
	if flags.Changed("input") {
		o.Input, _ = flags.GetString("input")
	}
	if flags.Changed("control-card") {
		o.ControlCard, _ = flags.GetString("control-card")
	}
	if flags.Changed("control-card-file") {
		o.ControlCardFile, _ = flags.GetString("control-card-file")
	}
	if flags.Changed("as-of") {
		o.AsOf, _ = flags.GetString("as-of")
	}
	if flags.Changed("seed") {
		o.Seed, _ = flags.GetString("seed")
	}
	if flags.Changed("commit-interval") {
		o.CommitInterval, _ = flags.GetInt("commit-interval")
	}
	if flags.Changed("run-limit") {
		o.RunLimit, _ = flags.GetInt64("run-limit")
	}
	if flags.Changed("report") {
		o.Report, _ = flags.GetString("report")
	}
	if flags.Changed("extract") {
		o.Extract, _ = flags.GetString("extract")
	}
	if flags.Changed("xlsx") {
		o.XLSX, _ = flags.GetString("xlsx")
	}

	return nil
}

func (c *Config) validate() error {
	switch c.Checkpoint.Driver {
	case "sqlite", "file":
	default:
		return fmt.Errorf("checkpoint driver must be sqlite or file, got %q", c.Checkpoint.Driver)
	}
	if c.Checkpoint.Path == "" {
		return fmt.Errorf("checkpoint path is required")
	}

	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}

	if c.Progress.Enabled && c.Progress.IntervalMs <= 0 {
		return fmt.Errorf("progress interval must be positive")
	}

	if c.Publish.Enabled() {
		if c.Publish.Bucket == "" {
			return fmt.Errorf("publish bucket is required")
		}
		if c.Publish.AccessKey == "" {
			return fmt.Errorf("publish access key is required")
		}
		if c.Publish.SecretKey == "" {
			return fmt.Errorf("publish secret key is required")
		}
		if c.Publish.Retries < 0 {
			return fmt.Errorf("retries must not be negative")
		}
	}

	seen := make(map[string]bool, len(c.Jobs))
	for _, j := range c.Jobs {
		if j.Name == "" {
			return fmt.Errorf("job name is required")
		}
		if seen[j.Name] {
			return fmt.Errorf("job %s configured twice", j.Name)
		}
		seen[j.Name] = true
	}

	return nil
}

// Select returns the job configurations to run. No names selects every
// configured job. A name absent from the file gets an empty
// configuration so a job can be run from flags alone. Command line job
// parameters override the file, and blank output paths default to
// OutputDir.
func (c *Config) Select(names []string) ([]JobConfig, error) {
	var selected []JobConfig
	if len(names) == 0 {
		selected = append(selected, c.Jobs...)
	} else {
		seen := make(map[string]bool, len(names))
		for _, name := range names {
			if seen[name] {
				return nil, fmt.Errorf("job %s selected twice", name)
			}
			seen[name] = true

			jc := JobConfig{Name: name}
			for _, j := range c.Jobs {
				if j.Name == name {
					jc = j
					break
				}
			}
			selected = append(selected, jc)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no jobs selected")
	}

	for i := range selected {
		j := &selected[i]
		c.applyOverride(j)
		if j.Report == "" {
			j.Report = filepath.Join(c.OutputDir, j.Name+".rpt")
		}
		if j.Extract == "" {
			j.Extract = filepath.Join(c.OutputDir, j.Name+".ext")
		}
		if j.SQL != nil {
			sq := *j.SQL
			if sq.KeyColumn == "" {
				sq.KeyColumn = "key"
			}
			if sq.LineColumn == "" {
				sq.LineColumn = "line"
			}
			j.SQL = &sq
		}
		if err := j.validate(); err != nil {
			return nil, err
		}
	}
	return selected, nil
}

func (c *Config) applyOverride(j *JobConfig) {
	o := c.override
	if o.Input != "" {
		j.Input, j.SQL = o.Input, nil
	}
	if o.ControlCard != "" {
		j.ControlCard, j.ControlCardFile = o.ControlCard, ""
	}
	if o.ControlCardFile != "" {
		j.ControlCardFile = o.ControlCardFile
	}
	if o.AsOf != "" {
		j.AsOf = o.AsOf
	}
	if o.Seed != "" {
		j.Seed = o.Seed
	}
	if o.CommitInterval != 0 {
		j.CommitInterval = o.CommitInterval
	}
	if o.RunLimit != 0 {
		j.RunLimit = o.RunLimit
	}
	if o.Report != "" {
		j.Report = o.Report
	}
	if o.Extract != "" {
		j.Extract = o.Extract
	}
	if o.XLSX != "" {
		j.XLSX = o.XLSX
	}
}

func (j JobConfig) validate() error {
	if j.Input == "" && j.SQL == nil {
		return fmt.Errorf("job %s: input file or sql source is required", j.Name)
	}
	if j.Input != "" && j.SQL != nil {
		return fmt.Errorf("job %s: input and sql source are mutually exclusive", j.Name)
	}
	if j.SQL != nil && (j.SQL.Path == "" || j.SQL.Table == "") {
		return fmt.Errorf("job %s: sql source needs path and table", j.Name)
	}
	if j.CommitInterval < 0 {
		return fmt.Errorf("job %s: commit interval must not be negative", j.Name)
	}
	if j.RunLimit < 0 {
		return fmt.Errorf("job %s: run limit must not be negative", j.Name)
	}
	if _, err := j.Date(); err != nil {
		return err
	}
	return nil
}
