package main

import (
	"flag"
	"os"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/config"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/pkg/surprise"
)

// commonFlags are accepted by every command that builds a client. They are
// applied over the config file only when given on the command line.
type commonFlags struct {
	configPath *string
	store      *string
	dbPath     *string
	results    *string
	seed       *int64
	logLevel   *string
	logFormat  *string
}

func registerCommon(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		configPath: fs.String("config", "", "YAML config file layered over the defaults"),
		store:      fs.String("store", "", "store backend: memory|sqlite"),
		dbPath:     fs.String("db-path", "", "sqlite database path"),
		results:    fs.String("results", "", "results directory"),
		seed:       fs.Int64("seed", 0, "random seed; 0 seeds from the clock"),
		logLevel:   fs.String("log-level", "", "debug|info|warn|error"),
		logFormat:  fs.String("log-format", "", "text|json"),
	}
}

func (f *commonFlags) load(fs *flag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(*f.configPath)
	if err != nil {
		return nil, err
	}
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "store":
			cfg.Storage.Kind = *f.store
		case "db-path":
			cfg.Storage.Path = *f.dbPath
		case "results":
			cfg.Results.Dir = *f.results
		case "seed":
			cfg.Seed = *f.seed
		case "log-level":
			cfg.Logging.Level = *f.logLevel
		case "log-format":
			cfg.Logging.Format = *f.logFormat
		}
	})
	return cfg, nil
}

// client loads the config, applies the command's own overrides and builds a
// client logging to stderr.
func (f *commonFlags) client(fs *flag.FlagSet, override func(*config.Config)) (*surprise.Client, error) {
	cfg, err := f.load(fs)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return surprise.New(surprise.Options{Config: cfg, Logger: cfg.Logging.Logger(os.Stderr)})
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
