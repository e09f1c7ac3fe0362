package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/weiqr/weiqr/internal/app"
	"github.com/weiqr/weiqr/internal/common"
)

// configPaths allows -config to be specified more than once; later files
// override earlier ones (grounded on the teacher's cmd/quaero/main.go).
type configPaths []string

func (c *configPaths) String() string { return fmt.Sprintf("%v", *c) }
func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths
	showVersion = flag.Bool("version", false, "print version information")
)

func init() {
	flag.Var(&configFiles, "config", "configuration file path (repeatable, later files override earlier ones)")
	flag.Var(&configFiles, "c", "configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(common.GetFullVersion())
		return
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("weiqr.toml"); err == nil {
			configFiles = append(configFiles, "weiqr.toml")
		}
	}

	cfg, err := common.Load(configFiles)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Strs("paths", configFiles).Msg("failed to load configuration")
		os.Exit(1)
	}

	logger := common.SetupLogger(cfg)
	defer common.Stop()

	defer common.RecoverWithCrashFile()

	common.PrintBanner(cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	application, err := app.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}

	common.SafeGo(logger, "rpc-server", func() {
		if err := application.Start(context.Background()); err != nil {
			logger.Fatal().Err(err).Msg("RPC server failed")
		}
	})

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Msg("weiqr ready, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	common.PrintShutdownBanner(logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
}
