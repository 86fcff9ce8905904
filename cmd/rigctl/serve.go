package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

const shutdownGrace = 5 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		addr    string
		dataDir string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP control API and UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if dataDir != "" {
				cfg.Server.DataDir = dataDir
			}
			logger := opts.logger()

			c := opts.newController(cfg, logger)
			if err := c.Connect(); err != nil {
				return err
			}
			defer func() {
				if err := c.Disconnect(); err != nil {
					logger.Warnw("disconnect", "error", err)
				}
			}()

			a := newAPI(c, cfg.Server.DataDir, logger)
			defer a.Close()

			srv := &http.Server{
				Addr:    cfg.Server.Addr,
				Handler: withMiddleware(a, logger),
			}

			ctx, cancel := signalContext()
			defer cancel()

			serveErr := make(chan error, 1)
			go func() { serveErr <- srv.ListenAndServe() }()
			logger.Infow("serving", "addr", cfg.Server.Addr, "dataDir", cfg.Server.DataDir)

			select {
			case err := <-serveErr:
				return err
			case <-ctx.Done():
			}

			logger.Infow("shutting down")
			shutCtx, shutCancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer shutCancel()
			if err := srv.Shutdown(shutCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "UI and upload directory (overrides config)")
	return cmd
}
