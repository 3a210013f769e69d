// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Command docstore administers document store areas and serves the read API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/mobiletoly/go-docstore/docstore"
)

const usage = `Usage: docstore [flags] <command> [args]

Commands:
  insert <content-type> <json>   insert a document
  get <id>                       read a document
  list [content-type]            page through documents (--skip, --take)
  count [content-type]           count documents
  update <id> <json>             replace a document
  delete <id>                    delete a document
  pull                           print changes after --since (--limit)
  watch                          stream changes, resuming from the checkpoint
  history <id>                   list history snapshots of a document
  prune <age>                    delete history snapshots older than age
  token <subject> [area...]      issue a bearer token for serve
  serve                          serve the HTTP read API

Flags:
`

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		if errors.Is(err, errUsage) || errors.Is(err, pflag.ErrHelp) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cfg, rest, err := LoadConfig(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			fmt.Fprint(stderr, usage)
			fmt.Fprint(stderr, newFlagSet().FlagUsages())
		}
		return err
	}
	if len(rest) == 0 {
		fmt.Fprint(stderr, usage)
		fmt.Fprint(stderr, newFlagSet().FlagUsages())
		return fmt.Errorf("%w: missing command", errUsage)
	}
	verb, verbArgs := rest[0], rest[1:]

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if verb == "token" {
		return issueToken(cfg, verbArgs, stdout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := initTracing(ctx, cfg.TraceStdout)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	pool, err := connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := docstore.NewPrometheusStageRecorder("docstore", reg)
	if err != nil {
		return err
	}
	storeCfg := cfg.StoreConfig()
	storeCfg.StageMetrics = recorder
	storeCfg.LogStageTimings = cfg.LogLevel <= slog.LevelDebug

	store, err := docstore.New(pool, storeCfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if verb == "serve" {
		return serve(ctx, cfg, store, reg, logger)
	}

	area, err := store.Area(cfg.Area)
	if err != nil {
		return err
	}
	a := &app{cfg: cfg, area: area, names: store.Fields(), out: stdout, logger: logger}
	return a.run(ctx, verb, verbArgs)
}

func connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "docstore-cli"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

func issueToken(cfg *Config, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: token <subject> [area...]", errUsage)
	}
	if cfg.JWTSecret == "" {
		return errors.New("jwt secret is required (--jwt-secret or JWT_SECRET)")
	}
	tok, err := docstore.NewJWTAuth(cfg.JWTSecret).GenerateToken(args[0], args[1:], 24*time.Hour)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, strings.TrimSpace(tok))
	return err
}
