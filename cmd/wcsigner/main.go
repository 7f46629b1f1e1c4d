package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aegis-sign/wcsigner/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "wcsigner",
		Short:        "Relay-paired signing wallet for decentralized applications",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("WCSIGNER_CONFIG"), "path to a YAML or TOML config file")

	root.AddCommand(
		newServeCmd(opts),
		newPairCmd(opts),
		newSessionsCmd(opts),
		newKeygenCmd(),
		newAddressCmd(opts),
	)
	return root
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// loadClientConfig 为只访问运维接口的子命令读取配置，配置不完整时退回默认地址。
func loadClientConfig(path string) config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Default()
	}
	return cfg
}
