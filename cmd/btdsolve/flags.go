package main

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/gitrdm/gokanbtd/pkg/search"
	"github.com/gitrdm/gokanbtd/pkg/wcsp"
)

// globalOptions are the flags shared by every command.
type globalOptions struct {
	configPath  string
	logLevel    string
	jsonLogs    bool
	metricsFile string

	// Search overrides, applied over the config file when set.
	btdMode        int
	hbfs           bool
	timeLimit      time.Duration
	backtrackLimit int64
	ub             int64
	order          string
	varHeuristic   string
	dichotomic     bool
	seed           int64
	verbose        int

	flags *pflag.FlagSet
}

func (o *globalOptions) bind(fs *pflag.FlagSet) {
	o.flags = fs
	fs.StringVarP(&o.configPath, "config", "c", "", "YAML search configuration")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	fs.BoolVar(&o.jsonLogs, "json", false, "log in JSON")
	fs.StringVar(&o.metricsFile, "metrics-file", "", "write prometheus metrics to this file when done")

	fs.IntVarP(&o.btdMode, "btd-mode", "B", 0, "0: DFBB, 1: BTD, 2: RDS-BTD, 3: RDS-BTD on a path decomposition")
	fs.BoolVar(&o.hbfs, "hbfs", true, "hybrid best-first search")
	fs.DurationVarP(&o.timeLimit, "time-limit", "t", 0, "time limit, 0 for none")
	fs.Int64Var(&o.backtrackLimit, "backtrack-limit", 0, "backtrack limit, 0 for none")
	fs.Int64Var(&o.ub, "ub", 0, "initial upper bound, 0 for the problem's")
	fs.StringVar(&o.order, "order", "", "elimination order (lex, min-degree, min-fill)")
	fs.StringVar(&o.varHeuristic, "var-heuristic", "", "variable ordering (dom-wdeg, dom-deg, lex)")
	fs.BoolVar(&o.dichotomic, "dichotomic", false, "split large domains in halves")
	fs.Int64Var(&o.seed, "seed", 0, "random seed")
	fs.IntVarP(&o.verbose, "verbose", "v", 0, "search trace level")
}

func (o *globalOptions) setupLogging() error {
	level, err := log.ParseLevel(o.logLevel)
	if err != nil {
		return errors.Wrap(err, "--log-level")
	}
	log.SetLevel(level)
	if o.jsonLogs {
		log.SetFormatter(&log.JSONFormatter{})
	}
	return nil
}

// searchConfig loads the config file, if any, and applies the flags that
// were set on the command line.
func (o *globalOptions) searchConfig() (search.SearchConfig, error) {
	cfg := search.DefaultSearchConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = search.LoadConfig(o.configPath); err != nil {
			return cfg, err
		}
	}
	changed := o.flags.Changed
	if changed("btd-mode") {
		cfg.BTDMode = o.btdMode
	}
	if changed("hbfs") {
		cfg.HBFS = o.hbfs
	}
	if changed("time-limit") {
		cfg.TimeLimit = o.timeLimit
	}
	if changed("backtrack-limit") {
		cfg.BacktrackLimit = o.backtrackLimit
	}
	if changed("ub") && o.ub > 0 {
		cfg.InitialUpperBound = wcsp.Cost(o.ub)
	}
	if changed("order") {
		h, err := wcsp.ParseOrderHeuristic(o.order)
		if err != nil {
			return cfg, errors.Wrap(err, "--order")
		}
		cfg.Decomposition.Order = h
	}
	if changed("var-heuristic") {
		h, err := search.ParseVarHeuristic(o.varHeuristic)
		if err != nil {
			return cfg, errors.Wrap(err, "--var-heuristic")
		}
		cfg.VarHeuristic = h
	}
	if changed("dichotomic") {
		cfg.Dichotomic = o.dichotomic
	}
	if changed("seed") {
		cfg.RandomSeed = o.seed
	}
	if changed("verbose") {
		cfg.Verbose = o.verbose
	}
	return cfg, nil
}

// metrics returns the collectors shared by the solvers of one command, or
// nil when no metrics file was requested.
func (o *globalOptions) metrics() (*search.Metrics, *prometheus.Registry, error) {
	if o.metricsFile == "" {
		return nil, nil, nil
	}
	reg := prometheus.NewRegistry()
	m := search.NewMetrics("btdsolve")
	if err := m.Register(reg); err != nil {
		return nil, nil, errors.Wrap(err, "registering metrics")
	}
	return m, reg, nil
}

func (o *globalOptions) writeMetrics(reg *prometheus.Registry) error {
	if reg == nil {
		return nil
	}
	return errors.Wrap(prometheus.WriteToTextfile(o.metricsFile, reg), "writing metrics")
}
