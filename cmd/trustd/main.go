// Copyright 2023 Trustplane Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// trustd distributes validated routing trust objects. It is started by a
// parent process that feeds it configurations over an inherited control
// channel and streams merged snapshots to a decision-engine peer.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/trustplane/trustd/config"
	"github.com/trustplane/trustd/pkg/log"
	"github.com/trustplane/trustd/pkg/serrors"
	"github.com/trustplane/trustd/rtr"
	"github.com/trustplane/trustd/wire"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:           "trustd",
		Short:         "Routing trust object distribution engine",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if err := log.Setup(cfg.Logging); err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "configuration file")
	cmd.AddCommand(&cobra.Command{
		Use:   "sample-config",
		Short: "Print a sample configuration file",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), config.Sample())
		},
	})
	return cmd
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.New("id", cfg.General.ID)

	parent, err := wire.FromFD(cfg.General.ParentChannelFD, "parent-channel")
	if err != nil {
		return serrors.Wrap("opening parent channel", err)
	}

	engine := rtr.NewEngine(rtr.EngineConfig{
		Parent:         parent,
		Sessions:       rtr.NewRegistry(logger),
		ExpireInterval: time.Duration(cfg.Timers.ExpireInterval),
		Logger:         logger,
	})

	g, errCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer log.HandlePanic()
		return engine.Run(errCtx)
	})

	if cfg.Metrics.Prometheus != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: cfg.Metrics.Prometheus, Handler: mux}
		logger.Info("exposing metrics", "addr", cfg.Metrics.Prometheus)
		g.Go(func() error {
			defer log.HandlePanic()
			err := server.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return serrors.Wrap("serving metrics", err,
					"addr", cfg.Metrics.Prometheus)
			}
			return nil
		})
		g.Go(func() error {
			defer log.HandlePanic()
			<-errCtx.Done()
			return server.Close()
		})
	}

	return g.Wait()
}
