// Command replay-to-redis is a demo binary that drives a replica
// session and replays every decoded event into a real standalone
// Redis instance via internal/sink, for manual verification that the
// decoders and driver behave against a live master.
package main

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
	"redisreplica/internal/replica"
	"redisreplica/internal/sink"
)

func main() {
	var configPath, sinkAddr string
	flag.StringVar(&configPath, "config", "", "configuration file path (YAML)")
	flag.StringVar(&sinkAddr, "sink-addr", "", "Redis address to replay decoded commands into")
	flag.Parse()

	if configPath == "" || sinkAddr == "" {
		fmt.Fprintln(os.Stderr, "usage: replay-to-redis --config <path> --sink-addr <host:port>")
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := logger.Init(cfg.ConfigDir(), logger.ParseLevel(cfg.Log.Level), cfg.Log.File, cfg.Log.Console); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Close()

	s, err := sink.New(sinkAddr)
	if err != nil {
		log.Fatalf("connect sink %s: %v", sinkAddr, err)
	}
	defer s.Close()

	driver := replica.NewDriver(replica.Config{
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
		Handler:              s,
	})

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
			log.Fatalf("replica stopped: %v", err)
		}
	case sig := <-sigCh:
		logger.Printf("signal %v received, shutting down", sig)
		cancel.Store(true)
		stop()
		<-errCh
	}
}
