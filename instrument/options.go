package instrument

import (
	"github.com/chazu/magcov/config"
	"github.com/chazu/magcov/diag"
	"github.com/chazu/magcov/probe"
)

// OptionsFromConfig translates a configuration into Options. The returned
// registry uses the configured counter mode.
func OptionsFromConfig(cfg *config.Config, rep diag.Reporter) (Options, error) {
	mode, err := cfg.CounterMode()
	if err != nil {
		return Options{}, err
	}
	opts := Options{
		Branches:     cfg.Instrumentation.Branches,
		Instructions: cfg.Instrumentation.Instructions,
		TestTracking: cfg.Instrumentation.TestTracking,
		Select:       cfg.Accepts,
		Workers:      cfg.Instrumentation.Workers,
		Registry:     probe.NewRegistry(mode),
		Reporter:     rep,
	}
	for _, name := range cfg.Instrumentation.Filters {
		f, err := FilterNamed(name)
		if err != nil {
			return Options{}, err
		}
		opts.Filters = append(opts.Filters, f)
	}
	return opts, nil
}
