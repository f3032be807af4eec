package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"defir/internal/app"
)

// globalFlags 是所有子命令共用的参数；非空时覆盖配置文件与环境变量。
type globalFlags struct {
	configPath string
	dataDir    string
	backend    string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "defir",
		Short:         "De-FIR evidence ingestion and case-record store",
		Long:          "defir opens cases from uploaded evidence, appends evidence, tracks case status on an append-only timeline and exports verifiable case bundles.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", app.Version, app.Commit, app.BuildTime),
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "YAML config file (default $"+app.EnvConfig+")")
	pf.StringVar(&g.dataDir, "data-dir", "", "data directory (default $"+app.EnvDataDir+" or XDG data home)")
	pf.StringVar(&g.backend, "backend", "", "case store backend: file or sqlite")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&g.logFormat, "log-format", "", "log format: text or json")

	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newMCPCmd(g))
	cmd.AddCommand(newCaseCmd(g))
	cmd.AddCommand(newExportCmd(g))
	cmd.AddCommand(newCIDCmd())
	cmd.AddCommand(newMigrateCmd(g))
	return cmd
}

// loadConfig 读取配置并叠加命令行参数（优先级最高）。
func (g *globalFlags) loadConfig() (app.Config, error) {
	cfg, err := app.LoadConfig(g.configPath)
	if err != nil {
		return app.Config{}, err
	}
	overridden := false
	if v := strings.TrimSpace(g.dataDir); v != "" {
		cfg.DataDir = v
		// 派生路径跟随新的 data dir 重新计算。
		cfg.StorePath, cfg.DBPath, cfg.BlobDir = "", "", ""
		overridden = true
	}
	if v := strings.TrimSpace(g.backend); v != "" {
		cfg.Backend = v
		overridden = true
	}
	if v := strings.TrimSpace(g.logLevel); v != "" {
		cfg.Log.Level = v
		overridden = true
	}
	if v := strings.TrimSpace(g.logFormat); v != "" {
		cfg.Log.Format = v
		overridden = true
	}
	if overridden {
		cfg.Resolve()
		if err := cfg.Validate(); err != nil {
			return app.Config{}, err
		}
	}
	return cfg, nil
}

// openRuntime 装配运行时；日志固定写 stderr，stdout 只用于命令输出（mcp 模式下是协议通道）。
func (g *globalFlags) openRuntime(ctx context.Context) (*app.Runtime, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	return openRuntimeWithConfig(ctx, cfg)
}

func openRuntimeWithConfig(ctx context.Context, cfg app.Config) (*app.Runtime, error) {
	logger, err := app.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	return app.Open(ctx, cfg, logger)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func readInputFile(path string) ([]byte, string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read evidence file: %w", err)
	}
	return b, filepath.Base(path), nil
}
