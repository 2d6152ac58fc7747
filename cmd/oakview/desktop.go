package main

import (
	"context"
	"os/signal"
	"syscall"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-oakview/pkg/desktop"
)

const appID = "io.github.teslashibe.oakview"

func newDesktopCmd(opts *options) *cobra.Command {
	var fullscreen bool

	cmd := &cobra.Command{
		Use:   "desktop",
		Short: "Show the streams in a desktop window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runDesktop(ctx, opts, fullscreen)
		},
	}
	cmd.Flags().BoolVar(&fullscreen, "fullscreen", false, "open the window fullscreen")
	return cmd
}

func runDesktop(ctx context.Context, opts *options, fullscreen bool) error {
	rt, err := newRuntime(opts.cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	view := desktop.NewView(desktop.Options{
		Title:      "oakview " + rt.model.Name,
		Fullscreen: fullscreen,
		Logger:     rt.logger,
	})
	coord := rt.coordinator(view)
	view.Attach(ctx, rt.hostSession(coord), rt.store)

	// Stopped normally saves and destroys; this covers a window that
	// never reached the event loop.
	defer rt.teardown(coord)

	rt.watch(ctx)

	a := app.NewWithID(appID)
	closed := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			fyne.Do(a.Quit)
		case <-closed:
		}
	}()
	view.Show(a)
	close(closed)
	return nil
}
