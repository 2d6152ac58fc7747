package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-oakview/pkg/web"
)

func newServeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Stream to the web dashboard",
		Long: `serve runs the session headless and streams frames to browsers.
The first connected viewer resumes the view and the last one leaving pauses
it. Permission can be granted from the dashboard.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if p, _ := cmd.Flags().GetString("port"); p != "" {
				opts.cfg.Web.Port = p
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, opts)
		},
	}
	cmd.Flags().String("port", "", "dashboard port (overrides web.port)")
	return cmd
}

func runServe(ctx context.Context, opts *options) error {
	rt, err := newRuntime(opts.cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := web.NewServer(web.Config{
		Port:   opts.cfg.Web.Port,
		Model:  rt.model,
		Logger: rt.logger,
	}, rt.bus)

	coord := rt.coordinator(srv)
	host := rt.hostSession(coord)
	srv.SetController(host)
	defer rt.teardown(coord)

	rt.watch(ctx)
	if err := coord.ActivateFrom(ctx, rt.store); err != nil {
		return err
	}
	rt.logger.Info("open the dashboard", "url", "http://localhost:"+opts.cfg.Web.Port, "session", coord.ID())
	return srv.ListenAndServe(ctx)
}
