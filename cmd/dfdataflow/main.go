package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/flagext"
	"gopkg.in/yaml.v3"

	"github.com/dunedaq/dfcore/cmd/dfdataflow/app"
	"github.com/dunedaq/dfcore/pkg/util/log"
)

// run-control flags, mirroring spec.md §6's start({run, production_vs_test,
// disable_data_storage}) command; this process starts exactly one run at
// boot rather than waiting on an external run-control connection, since
// run control itself is out of scope (spec.md §1 Non-goals).
func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
		os.Exit(1)
	}

	log.SetLevel(cfg.logLevel)

	a, err := app.New(cfg.Config)
	if err != nil {
		level.Error(log.Logger).Log("msg", "failed to init dfcore", "err", err)
		os.Exit(1)
	}

	a.Start(app.RunConfig{
		RunNumber:          cfg.runNumber,
		ProductionVsTest:   cfg.productionVsTest,
		DisableDataStorage: cfg.disableDataStorage,
	})

	if err := a.Run(); err != nil {
		level.Error(log.Logger).Log("msg", "dfcore exited with error", "err", err)
		os.Exit(1)
	}
}

// mainConfig bundles app.Config with the run-control and logging flags that
// sit outside the on-disk config (they describe how to start a run, not
// static component tuning).
type mainConfig struct {
	app.Config

	logLevel            string
	runNumber           uint64
	productionVsTest    bool
	disableDataStorage  bool
}

func loadConfig() (*mainConfig, error) {
	const configFileOption = "config.file"

	var configFile string

	args := os.Args[1:]
	cfg := &mainConfig{}

	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&configFile, configFileOption, "", "")
	for len(args) > 0 {
		_ = fs.Parse(args)
		args = args[1:]
	}

	cfg.Config.RegisterFlagsAndApplyDefaults("", flag.CommandLine)
	flag.StringVar(&cfg.logLevel, "log.level", "info", "Log level: debug, info, warn, error.")
	flag.Uint64Var(&cfg.runNumber, "run.number", 1, "Run number to start at boot.")
	flag.BoolVar(&cfg.productionVsTest, "run.production", true, "Whether this run counts as production (vs. a test run).")
	flag.BoolVar(&cfg.disableDataStorage, "run.disable-data-storage", false, "Start the run without a storage sink attached.")

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read configFile %s: %w", configFile, err)
		}
		if err := yaml.Unmarshal(buf, &cfg.Config); err != nil {
			return nil, fmt.Errorf("failed to parse configFile %s: %w", configFile, err)
		}
	}

	flagext.IgnoredFlag(flag.CommandLine, configFileOption, "Configuration file to load")
	flag.Parse()

	return cfg, nil
}
