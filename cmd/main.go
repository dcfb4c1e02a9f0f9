package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/aistory/aistory-web/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to init app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Start(); err != nil {
		a.Log.Fatal("Failed to start app", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Log.Info("HTTP server listening", "addr", a.Cfg.HTTPAddr)
		return a.Run(a.Cfg.HTTPAddr)
	})
	g.Go(func() error {
		<-ctx.Done()
		a.Log.Info("Shutting down...")
		a.Close()
		return ctx.Err()
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		a.Log.Error("Server exited", "error", err)
		os.Exit(1)
	}
}
