// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command davd serves a WebDAV tree over HTTP: an in-memory filesystem
// by default, or a local directory with -root.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	webdav "github.com/google/go-webdav"
	"github.com/google/go-webdav/aferofs"
	"github.com/google/go-webdav/memfs"
	"github.com/google/go-webdav/memls"
)

type config struct {
	Addr               string `mapstructure:"addr"`
	Prefix             string `mapstructure:"prefix"`
	Root               string `mapstructure:"root"`
	FakeLocks          bool   `mapstructure:"fake_locks"`
	AutoIndex          bool   `mapstructure:"auto_index"`
	AllowInfiniteDepth bool   `mapstructure:"allow_infinite_depth"`
	Quirks             bool   `mapstructure:"quirks"`
	MaxLockSeconds     int64  `mapstructure:"max_lock_seconds"`
	JSONLog            bool   `mapstructure:"json_log"`
}

func loadConfig(path string) (*config, error) {
	cfg := &config{
		Addr:      ":8080",
		AutoIndex: true,
		Quirks:    true,
	}
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if err := mapstructure.Decode(m, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	var (
		flagConfig = flag.String("config", "", "path to JSON config file")
		flagAddr   = flag.String("addr", "", "listen address (overrides config)")
		flagRoot   = flag.String("root", "", "serve this local directory instead of memory")
		flagPrefix = flag.String("prefix", "", "URL prefix to strip")
	)
	flag.Parse()

	cfg, err := loadConfig(*flagConfig)
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("config")
	}
	if *flagAddr != "" {
		cfg.Addr = *flagAddr
	}
	if *flagRoot != "" {
		cfg.Root = *flagRoot
	}
	if *flagPrefix != "" {
		cfg.Prefix = *flagPrefix
	}

	var logger zerolog.Logger
	if cfg.JSONLog {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	var fs webdav.FileSystem
	if cfg.Root != "" {
		fs = aferofs.New(afero.NewBasePathFs(afero.NewOsFs(), cfg.Root))
	} else {
		fs = memfs.New()
	}

	var (
		ls      webdav.LockSystem
		sweeper *memls.MemLS
	)
	if cfg.FakeLocks {
		ls = memls.NewFake()
	} else {
		m := memls.New()
		if cfg.MaxLockSeconds > 0 {
			m.MaxTimeout = time.Duration(cfg.MaxLockSeconds) * time.Second
		}
		ls = m
		sweeper = m
	}

	dav := &webdav.Handler{
		FS:                 fs,
		LS:                 ls,
		Prefix:             cfg.Prefix,
		Logger:             &logger,
		AutoIndex:          cfg.AutoIndex,
		AllowInfiniteDepth: cfg.AllowInfiniteDepth,
		Quirks:             cfg.Quirks,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Handle(cfg.Prefix+"/*", dav)
	if cfg.Prefix != "" {
		r.Handle(cfg.Prefix, dav)
	} else {
		r.Handle("/", dav)
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Addr).Str("prefix", cfg.Prefix).Msg("listening")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	if sweeper != nil {
		g.Go(func() error {
			t := time.NewTicker(time.Second)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case now := <-t.C:
					sweeper.Sweep(now)
				}
			}
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server")
	}
}
