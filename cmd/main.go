package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/librfs/rfs-fuse/internal/config"
	"github.com/librfs/rfs-fuse/internal/daemon"
	"github.com/librfs/rfs-fuse/internal/metrics"
	"github.com/librfs/rfs-fuse/internal/util"
)

// version is stamped by the build; "dev" for local builds.
var version = "dev"

func main() {
	// Parse command line arguments
	var (
		configPath  string
		poolPath    string
		verbose     int
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "Path to the process config file. Default is "+config.DefaultConfigPath+" when present.")
	flag.StringVar(&configPath, "c", "", "--config (shorthand)")
	flag.StringVar(&poolPath, "pool-config", config.DefaultPoolConfigPath, "Path to the pool registry file")
	flag.StringVar(&poolPath, "p", config.DefaultPoolConfigPath, "--pool-config (shorthand)")
	flag.IntVar(&verbose, "verbose", 0, "Log verbosity level between 1 (error) and 5 (trace). Overrides the config file level.")
	flag.IntVar(&verbose, "v", 0, "--verbose (shorthand)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("rfs-fuse " + version)
		return
	}

	cfg, err := config.LoadOptional(configPath)
	if err != nil {
		// Logger is not up yet; bring it up at defaults so the failure is visible
		util.InitializeLogger(util.InfoLevel)
		lg := util.GetLogger("main")
		lg.Fatal().Err(err).Str("config", configPath).Msg("Failed to load config")
	}

	// Initialize logger; -verbose beats the config file level
	logLvl := util.ParseLevel(cfg.Common.LogLevel)
	if verbose != 0 {
		if verbose < 1 {
			verbose = 1
		}
		if verbose > 5 {
			verbose = 5
		}
		logLvls := [5]util.LogLevel{util.ErrorLevel, util.WarnLevel, util.InfoLevel, util.DebugLevel, util.TraceLevel}
		logLvl = logLvls[verbose-1]
	}
	util.InitializeLogger(logLvl)
	util.RedirectStdLog("stdlog", util.WarnLevel)
	logger := util.GetLogger("main")
	logger.Info().Str("version", version).Str("pool_config", poolPath).Msg("rfs-fuse initializing")

	var collector *metrics.Collector
	if cfg.Metrics.Listen != "" {
		collector = metrics.NewCollector()
	}

	// Mounts are torn down when an interrupt or terminate signal cancels ctx
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := daemon.New(cfg, collector)
	if err := d.Run(ctx, poolPath); err != nil {
		logger.Fatal().Err(err).Msg("Daemon failed")
	}
	logger.Info().Msg("Shutdown complete")
}
