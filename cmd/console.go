package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"relaybot/pkg/channel"
	"relaybot/pkg/channel/console"
	"relaybot/pkg/logger"
	"relaybot/pkg/memory"

	"github.com/spf13/cobra"
)

const defaultConsoleLog = ".relaybot/console.log"

var consoleLogPath string

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Chat with the bot in the terminal",
	Long:  "Runs relaybot with a local one-to-one terminal conversation. Logs go to a file so they do not disturb the UI.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := loadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		logPath, err := memory.ResolvePath(consoleLogPath, defaultConsoleLog)
		if err != nil {
			fmt.Printf("failed to resolve log file: %v\n", err)
			return
		}
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Printf("failed to open log file: %v\n", err)
			return
		}
		defer logFile.Close()

		appLogger, err := logger.NewWithWriter(cfg.Logging, logFile)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.console")

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		adapters := []channel.Adapter{console.NewAdapter(cfg.Channels.Console, appLogger)}
		rt, err := newRuntime(runCtx, cfg, adapters, appLogger, runtimeOptions{disableStatusServer: true})
		if err != nil {
			fmt.Printf("failed to initialize console: %v\n", err)
			return
		}

		log.Info("Console started", "log_file", logPath)
		if err := rt.run(runCtx); err != nil {
			fmt.Printf("console failed: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().StringVar(&consoleLogPath, "log-file", "", "log file (default: ~/.relaybot/console.log)")
}
