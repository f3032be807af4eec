package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"defir/internal/mcp"
	"defir/internal/services/webapp"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if v := strings.TrimSpace(listen); v != "" {
				cfg.ListenAddr = v
			}

			// 支持 Ctrl+C 优雅退出。
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rt, err := openRuntimeWithConfig(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()
			return webapp.Run(ctx, rt)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config, 127.0.0.1:8787)")
	return cmd
}

func newMCPCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server",
		Long:  "Start the Model Context Protocol server (stdio) exposing the case tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rt, err := g.openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()
			return mcp.NewServer(rt.Service, rt.Logger).Run(ctx)
		},
	}
}
