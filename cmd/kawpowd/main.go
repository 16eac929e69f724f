// Command kawpowd runs the multi-GPU KawPow mining engine against a
// configured stratum pool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/coreminer/kawpowd/config"
	"github.com/coreminer/kawpowd/log"
	"github.com/coreminer/kawpowd/miner"
	"github.com/coreminer/kawpowd/monitor"
)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path to the TOML configuration file",
		Value: "kawpowd.toml",
	}
	logLevelFlag = cli.StringFlag{
		Name:   "loglevel",
		Usage:  "log verbosity: crit, error, warn, info, debug, trace",
		Value:  "info",
		EnvVar: "KAWPOWD_LOG",
	}
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "kawpowd"
	app.Usage = "multi-GPU KawPow mining engine"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{configFlag, logLevelFlag}
	app.Action = run
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	log.Root().SetLevel(log.ParseLvl(ctx.String(logLevelFlag.Name)))

	cfg, err := config.Load(ctx.String(configFlag.Name))
	if err != nil {
		return err
	}

	orch, err := miner.New(cfg)
	if err != nil {
		return err
	}

	var httpServer *monitor.Server
	if cfg.Monitoring.HTTPAddr != "" {
		httpServer = monitor.NewServer(monitor.HTTPConfig{Addr: cfg.Monitoring.HTTPAddr}, orch.Monitor())
		go func() {
			if err := httpServer.ListenAndServe(); err != nil {
				log.Root().Warn("monitor http server stopped", "err", err)
			}
		}()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Root().Info("shutting down")
		cancel()
	}()

	ticker := time.NewTicker(cfg.Monitoring.UpdateInterval())
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				orch.ReportMetrics()
			}
		}
	}()

	err = orch.Start(runCtx)
	orch.Stop()
	if httpServer != nil {
		httpServer.Close()
	}
	if err != nil && runCtx.Err() == nil {
		return err
	}
	return nil
}
