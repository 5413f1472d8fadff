package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"file-explorer/archive"
	"file-explorer/auth"
	"file-explorer/config"
	"file-explorer/hashcache"
	"file-explorer/logging"
	"file-explorer/scan"
	"file-explorer/server"
	"file-explorer/stream"
)

var (
	version   = "0.3.0" // Default version
	buildDate = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	// Handle version flag
	if cfg.ShowVersion {
		fmt.Printf("file-explorer version %s\n", version)
		fmt.Printf("Build date: %s\n", buildDate)
		fmt.Printf("Git commit: %s\n", gitCommit)
		return nil
	}

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logging.Sync()
	log := logging.L()

	info, err := os.Stat(cfg.RootDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("root path %s is not a directory", cfg.RootDir)
	}
	log.Info("serving files", zap.String("root", cfg.RootDir), zap.String("temp", cfg.TempDir))

	fsys := afero.NewOsFs()

	store, err := archive.OpenStore(cfg.StateDB)
	if err != nil {
		return err
	}
	defer store.Close()

	janitor := archive.NewJanitor(fsys, store, archive.JanitorConfig{
		TempDir:   cfg.TempDir,
		WorkDir:   cfg.WorkDir,
		Retention: cfg.ArchiveRetention,
	}, logging.Named("janitor"))
	defer janitor.Stop()

	if err := janitor.Recover(); err != nil {
		return fmt.Errorf("recover archive state: %w", err)
	}
	if n, err := janitor.Sweep(); err != nil {
		log.Warn("initial archive sweep failed", zap.Error(err))
	} else if n > 0 {
		log.Info("removed expired archives", zap.Int("count", n))
	}

	gate, err := auth.New(auth.Config{
		Password:     cfg.Password,
		PasswordHash: cfg.PasswordHash,
		Secret:       cfg.SessionSecret,
		TTL:          cfg.SessionTTL,
	}, logging.Named("auth"))
	if err != nil {
		return err
	}
	if !gate.Enabled() {
		log.Warn("no PASSWORD or PASSWORD_HASH set, the API is open")
	}

	builder := archive.NewBuilder(fsys, archive.Config{
		Root:      cfg.RootDir,
		TempDir:   cfg.TempDir,
		WorkDir:   cfg.WorkDir,
		MaxSize:   cfg.ArchiveMaxSize,
		Retention: cfg.ArchiveRetention,
		Workers:   cfg.Workers,
	}, store, janitor, logging.Named("archive"))

	srv := server.New(server.Deps{
		Lister: scan.NewLister(fsys, scan.ListerConfig{
			Root:     cfg.RootDir,
			PageSize: cfg.PageSize,
			Workers:  cfg.Workers,
		}, hashcache.NewMemory(fsys), logging.Named("lister")),
		Streamer:      stream.New(fsys, cfg.RootDir, logging.Named("stream")),
		Builder:       builder,
		Retriever:     archive.NewRetriever(fsys, cfg.TempDir),
		Gate:          gate,
		Log:           log,
		HashByDefault: cfg.HashFiles,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go janitor.Run(ctx, cfg.SweepInterval)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(cfg.ListenAddr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("received interrupt signal, stopping server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown did not complete cleanly", zap.Error(err))
	}

	// No new jobs can start now; let running ones finish before the store closes
	log.Info("waiting for in-progress archives")
	builder.Wait()
	log.Info("all archive jobs completed")
	return nil
}
