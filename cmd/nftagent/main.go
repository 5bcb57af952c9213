package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"OpenNFT-Agent/internal/config"
	"OpenNFT-Agent/pkg/logger"
)

// main 是 NFT Agent 命令行的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "nftagent",
		Usage: "Sepolia NFT 市场对话助手",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "JSON 配置文件路径",
				EnvVars: []string{config.EnvConfigPath},
				Value:   "configs/nftagent.json",
			},
		},
		Commands: append(append(agentCommands(), marketCommands()...), abiCommands()),
	}

	err := app.RunContext(ctx, os.Args)
	_ = logger.Sync()
	if err != nil {
		logger.L().Error("nftagent 运行失败", slog.Any("error", err))
		os.Exit(1)
	}
}
