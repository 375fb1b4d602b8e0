// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/sealdrop/lib/clock"
	"github.com/bureau-foundation/sealdrop/lib/config"
	"github.com/bureau-foundation/sealdrop/lib/coordinator"
	"github.com/bureau-foundation/sealdrop/lib/dispatch"
	"github.com/bureau-foundation/sealdrop/lib/fswatch"
	"github.com/bureau-foundation/sealdrop/lib/ledger"
	"github.com/bureau-foundation/sealdrop/lib/pathfilter"
	"github.com/bureau-foundation/sealdrop/lib/process"
	"github.com/bureau-foundation/sealdrop/lib/report"
	"github.com/bureau-foundation/sealdrop/lib/seal"
	"github.com/bureau-foundation/sealdrop/lib/stability"
	"github.com/bureau-foundation/sealdrop/lib/version"
)

func runWatch(args []string, stdout, stderr io.Writer) error {
	flagSet := newFlagSet("watch", "[--config FILE]", stderr)
	var configPath, logLevel string
	flagSet.StringVar(&configPath, "config", "", "configuration file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	if err := parseFlags(flagSet, args); err != nil {
		return err
	}
	if flagSet.NArg() > 0 {
		return process.Usagef("unexpected argument: %s", flagSet.Arg(0))
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger, err := newLogger(cfg.Logging, stderr)
	if err != nil {
		return err
	}
	logger.Info("sealdrop starting", "version", version.Info())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Error("closing pipeline", "error", err)
		}
	}()

	if err := p.coordinator.Start(ctx); err != nil {
		return err
	}

	if cfg.PIDFile != "" {
		pid := os.Getpid()
		if err := writePIDFile(cfg.PIDFile, pid); err != nil {
			p.coordinator.Stop()
			return err
		}
		defer func() {
			if err := removePIDFile(cfg.PIDFile, pid); err != nil {
				logger.Warn("removing pid file", "pid_file", cfg.PIDFile, "error", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping")
	case <-p.coordinator.Failed():
		logger.Error("watch failed, stopping", "error", p.coordinator.Err())
		return errors.Join(
			fmt.Errorf("watching %s: %w", cfg.InputRoot, p.coordinator.Err()),
			p.coordinator.Stop(),
		)
	}
	if err := p.coordinator.Stop(); err != nil {
		return err
	}
	return nil
}

// loadConfig loads from the --config path when given, else from
// SEALDROP_CONFIG.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// pipeline is the assembled set of long-lived components behind one
// watch run.
type pipeline struct {
	coordinator *coordinator.Coordinator
	ledger      *ledger.Writer
}

// Close releases what buildPipeline opened. The coordinator must
// already be stopped.
func (p *pipeline) Close() error {
	if p.ledger != nil {
		return p.ledger.Close()
	}
	return nil
}

// buildPipeline turns a validated configuration into a ready, Idle
// coordinator.
func buildPipeline(cfg *config.Config, logger *slog.Logger) (*pipeline, error) {
	recipientValues := append([]string(nil), cfg.Encryption.Recipients...)
	if cfg.Encryption.RecipientsFile != "" {
		fromFile, err := seal.ReadRecipientsFile(cfg.Encryption.RecipientsFile)
		if err != nil {
			return nil, err
		}
		recipientValues = append(recipientValues, fromFile...)
	}
	recipients, err := seal.ParseRecipients(recipientValues)
	if err != nil {
		return nil, err
	}

	compression, err := seal.ParseCompression(cfg.Directories.Compression)
	if err != nil {
		return nil, err
	}
	if cfg.StagingDir != "" {
		if err := os.MkdirAll(cfg.StagingDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating staging directory: %w", err)
		}
	}
	if err := os.MkdirAll(cfg.OutputRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating output root: %w", err)
	}

	sealer, err := seal.New(seal.Options{
		Recipients:          recipients,
		ArtifactSuffix:      cfg.Encryption.ArtifactSuffix,
		Armor:               cfg.Encryption.Armor,
		PreservePermissions: cfg.PreservePermissions,
		StagingDir:          cfg.StagingDir,
		Compression:         compression,
	})
	if err != nil {
		return nil, err
	}

	clk := clock.Real()

	var encryptor dispatch.Encryptor = sealer
	if cfg.Retry.Attempts > 0 {
		encryptor = &dispatch.RetryingEncryptor{
			Encryptor: sealer,
			Attempts:  cfg.Retry.Attempts,
			Delay:     cfg.Retry.Delay.Std(),
			Clock:     clk,
			Logger:    logger,
		}
	}

	var remover dispatch.Remover
	if cfg.DeleteAfterEncrypt {
		remover = dispatch.FileRemover{InputRoot: cfg.InputRoot, BackupRoot: cfg.BackupRoot}
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		OutputRoot:         cfg.OutputRoot,
		DeleteAfterEncrypt: cfg.DeleteAfterEncrypt,
		MaxFileSize:        cfg.Limits.MaxFileSize,
		Logger:             logger,
	}, encryptor, remover)
	if err != nil {
		return nil, err
	}

	source := fswatch.New(fswatch.Options{
		Root:           cfg.InputRoot,
		QueueSize:      cfg.Limits.QueueSize,
		HiddenPrefixes: cfg.Filter.HiddenPrefixes,
		Logger:         logger,
	})
	detector := stability.New(cfg.Stability.Window.Std(), cfg.Stability.PollInterval.Std(), clk)

	result := &pipeline{}
	sinks := report.Multi{report.LogSink{Logger: logger}}
	if cfg.Ledger.Path != "" {
		writer, err := ledger.Open(cfg.Ledger.Path, logger)
		if err != nil {
			return nil, err
		}
		result.ledger = writer
		sinks = append(sinks, writer)
	}

	result.coordinator, err = coordinator.New(coordinator.Config{
		InputRoot:          cfg.InputRoot,
		ArchiveDirectories: cfg.ArchiveDirectories(),
		Workers:            cfg.Limits.Workers,
		Filter: &pathfilter.Filter{
			HiddenPrefixes:    cfg.Filter.HiddenPrefixes,
			TemporarySuffixes: cfg.Filter.TemporarySuffixes,
			ArtifactSuffix:    sealer.ArtifactSuffix(),
			AllowedExtensions: cfg.Filter.AllowedExtensions,
		},
		Sink:   sinks,
		Clock:  clk,
		Logger: logger,
	}, source, detector, dispatcher)
	if err != nil {
		return nil, errors.Join(err, result.Close())
	}
	return result, nil
}
