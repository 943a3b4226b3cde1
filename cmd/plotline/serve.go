package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/plotline/internal/server"
)

func serveCmd(g *globalFlags) *cobra.Command {
	var (
		withHTTP bool
		addr     string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(g, true, withHTTP, addr)
		},
	}
	cmd.Flags().BoolVar(&withHTTP, "http", false, "Also serve the frontend HTTP API")
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	return cmd
}

func httpCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "http",
		Short: "Run only the frontend HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(g, false, true, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	return cmd
}

func run(g *globalFlags, stdio, withHTTP bool, addr string) error {
	cfg, log, err := g.load()
	if err != nil {
		return err
	}
	defer log.Sync()
	if addr != "" {
		cfg.HTTP.Addr = addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.Build(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer app.Close()
	if err := app.Start(ctx); err != nil {
		return err
	}

	grp, ctx := errgroup.WithContext(ctx)
	if withHTTP {
		srv := app.HTTP()
		grp.Go(func() error { return srv.Run(ctx) })
	}
	if stdio {
		grp.Go(func() error {
			// stdout belongs to the MCP transport; logs go to stderr.
			err := mcpserver.NewStdioServer(server.NewMCP(app)).Listen(ctx, os.Stdin, os.Stdout)
			stop()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	log.Info("plotline started", "version", server.Version, "stdio", stdio, "http", withHTTP)
	return grp.Wait()
}
