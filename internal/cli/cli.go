// Package cli implements the command-line entry points for running a
// replica session against a master.
package cli

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"redisreplica/internal/config"
	"redisreplica/internal/logger"
	"redisreplica/internal/module"
	"redisreplica/internal/proto"
	"redisreplica/internal/replica"
	"redisreplica/internal/sink"
)

// Execute dispatches CLI subcommands.
func Execute(args []string) int {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("[redisreplica] ")

	if len(args) == 0 {
		printUsage()
		return 1
	}

	switch args[0] {
	case "run", "replicate":
		return runReplicate(args[1:])
	case "help", "-h", "--help":
		printUsage()
		return 0
	case "version", "--version", "-v":
		fmt.Println("redisreplica 0.1.0-dev")
		return 0
	default:
		log.Printf("unknown subcommand: %s", args[0])
		printUsage()
		return 1
	}
}

func loadConfigFromArgs(cmd string, args []string) (*config.Config, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	var configPath string
	var sinkAddr string
	fs.StringVar(&configPath, "config", "", "configuration file path (YAML)")
	fs.StringVar(&configPath, "c", "", "configuration file path (YAML)")
	fs.StringVar(&sinkAddr, "sink-addr", "", "optional Redis address to replay decoded commands into, for manual verification")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if configPath == "" {
		fs.Usage()
		return nil, fmt.Errorf("the --config flag is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.SinkAddr = sinkAddr
	return cfg, nil
}

func errorToExitCode(err error) int {
	if err == flag.ErrHelp {
		return 0
	}
	log.Printf("command failed: %v", err)
	return 1
}

func runReplicate(args []string) int {
	cfg, err := loadConfigFromArgs("replicate", args)
	if err != nil {
		return errorToExitCode(err)
	}

	if err := logger.Init(cfg.ConfigDir(), logger.ParseLevel(cfg.Log.Level), cfg.Log.File, cfg.Log.Console); err != nil {
		log.Printf("failed to initialize logging: %v", err)
		return 1
	}
	defer logger.Close()

	logger.Printf("starting replica against %s", cfg.Addr)
	logger.Printf("%s", cfg.Summary())
	logger.Printf("log file: %s", logger.GetLogFilePath())

	var handler proto.Handler
	if cfg.SinkAddr != "" {
		s, err := sink.New(cfg.SinkAddr)
		if err != nil {
			logger.Error("failed to connect sink: %v", err)
			return 1
		}
		defer s.Close()
		handler = s
	} else {
		handler = proto.HandlerFunc(func(ev proto.Event) error {
			logger.Debug("event kind=%d", ev.Kind)
			return nil
		})
	}

	driverCfg := replica.Config{
		Addr:                 cfg.Addr,
		Password:             cfg.Password,
		ReplID:               cfg.ReplID,
		ReplOffset:           cfg.ReplOffset,
		ReadTimeout:          cfg.ReadTimeout.Duration(),
		WriteTimeout:         cfg.WriteTimeout.Duration(),
		ListeningPort:        cfg.ListeningPort,
		AnnounceCapabilities: cfg.AnnounceCapabilities,
		AckInterval:          cfg.AckInterval.Duration(),
		DiscardRDB:           cfg.IsDiscardRDB,
		IsAOF:                cfg.IsAOF,
		BatchSize:            cfg.BatchSize,
		EnableStreams:        cfg.EnableStreams,
		Modules:              module.New(),
		Handler:              handler,
	}
	driver := replica.NewDriver(driverCfg)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	var cancel atomic.Bool

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- driver.Start(ctx, &cancel) }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("replica stopped: %v", err)
			return 1
		}
		logger.Printf("replica finished cleanly")
		return 0
	case sig := <-sigCh:
		logger.Printf("signal %v received, shutting down", sig)
		cancel.Store(true)
		stop()
		<-errCh
		return 0
	}
}

func printUsage() {
	fmt.Println(`redisreplica - a passive replica client for a Redis master

Usage:
  redisreplica run --config <path> [--sink-addr <host:port>]
  redisreplica help
  redisreplica version

Flags:
  --config, -c     YAML configuration file path
  --sink-addr      Optional Redis address to replay decoded commands into`)
}
