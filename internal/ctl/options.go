package ctl

import (
	"errors"
	"time"

	logopts "github.com/kart-io/arca/pkg/options/logger"
	"github.com/kart-io/arca/pkg/watcher"
	"github.com/spf13/pflag"
)

// Options contains all arcactl options.
type Options struct {
	// Domain selects the configuration domain. It drives the default
	// file location and the environment variable prefix.
	Domain string `json:"domain" mapstructure:"domain"`

	// Dir overrides the resolved configuration directory.
	Dir string `json:"dir" mapstructure:"dir"`

	// File overrides the resolved configuration file name.
	File string `json:"file" mapstructure:"file"`

	// PollInterval sets how often the file watcher samples the file.
	PollInterval time.Duration `json:"poll-interval" mapstructure:"poll-interval"`

	// ApplyEnv applies environment overrides before running the command.
	ApplyEnv bool `json:"apply-env" mapstructure:"apply-env"`

	// Log contains logger configuration.
	Log *logopts.Options `json:"log" mapstructure:"log"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	log := logopts.NewOptions()
	// Logs go to stderr at WARN so command output stays pipeable.
	log.OutputPaths = []string{"stderr"}
	log.Level = "WARN"

	return &Options{
		Domain:       "arca",
		PollInterval: watcher.DefaultInterval,
		Log:          log,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Domain, "domain", o.Domain, "Configuration domain")
	fs.StringVar(&o.Dir, "dir", o.Dir, "Configuration directory (overrides the resolved location)")
	fs.StringVar(&o.File, "file", o.File, "Configuration file name (overrides the resolved location)")
	fs.DurationVar(&o.PollInterval, "poll-interval", o.PollInterval, "File watcher poll interval")
	fs.BoolVar(&o.ApplyEnv, "apply-env", o.ApplyEnv, "Apply environment overrides before running the command")
	o.Log.AddFlags(fs)
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.Domain == "" {
		return errors.New("domain must not be empty")
	}
	if o.PollInterval <= 0 {
		return errors.New("poll-interval must be positive")
	}
	return o.Log.Validate()
}

// Complete completes the options with defaults.
func (o *Options) Complete() error {
	return o.Log.Complete()
}
