package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dhcgn/chat-archive-extract/cmd"
	"github.com/dhcgn/chat-archive-extract/config"
	"github.com/dhcgn/chat-archive-extract/export"
	"github.com/dhcgn/chat-archive-extract/filter"
	"github.com/dhcgn/chat-archive-extract/mbox"
	"github.com/dhcgn/chat-archive-extract/pipeline"
	"github.com/dhcgn/chat-archive-extract/progress"
	"github.com/dhcgn/chat-archive-extract/runner"
	"github.com/dhcgn/chat-archive-extract/stats"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "chat-archive-extract",
		Short:        "Extract chat messages and attachments from exported chat archives",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting chat-archive-extract", "archive", cfg.ArchivePattern, "output", cfg.OutputDir, "attachments", cfg.ExportAttachments, "dryRun", cfg.DryRun)

			return run(cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(cmd.NewStatsCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	paths, err := mbox.Expand(cfg.ArchivePattern)
	if err != nil {
		return err
	}

	r, err := runner.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}
	stats.NewReporter(r, logger)

	if cfg.LogLevel == "info" {
		total := 0
		for _, path := range paths {
			n, err := mbox.CountEntries(path)
			if err != nil {
				logger.Warn("count entries failed", "path", path, "err", err)
				continue
			}
			total += n
		}
		progress.NewReporter(r, progress.New(total, cfg.LogLevel))
	}

	if _, err := mbox.NewProducer(paths, r, logger); err != nil {
		return fmt.Errorf("mbox.NewProducer: %w", err)
	}

	p := pipeline.New(pipeline.Options{Workers: cfg.Workers, Logger: logger})
	pipeline.NewStage(p, r)

	f, err := filter.New(filter.Options{
		IncludeSender:  cfg.IncludeSender,
		IncludeContent: cfg.IncludeContent,
		ExcludeSender:  cfg.ExcludeSender,
		ExcludeContent: cfg.ExcludeContent,
	})
	if err != nil {
		return fmt.Errorf("filter.New: %w", err)
	}

	sinkOpts := export.Options{
		OutputDir:         cfg.OutputDir,
		ExportAttachments: cfg.ExportAttachments,
		DryRun:            cfg.DryRun,
		Filter:            f,
	}
	if _, err := export.NewSink(sinkOpts, r, logger); err != nil {
		return fmt.Errorf("export.NewSink: %w", err)
	}

	return r.Start()
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }
	runID := uuid.NewString()

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("chat-archive-extract-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler).With("run", runID), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler).With("run", runID), cleanup, nil
}
