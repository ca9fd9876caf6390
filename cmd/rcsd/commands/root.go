// Package commands команды утилиты rcsd
package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arzzra/rcs_client/pkg/client"
	"github.com/arzzra/rcs_client/pkg/config"
)

var (
	configPath string
	logLevel   string

	settings config.Settings
	logger   *slog.Logger
)

// Execute разбирает аргументы и выполняет команду
func Execute() error {
	root := &cobra.Command{
		Use:           "rcsd",
		Short:         "RCS messaging client over IMS",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				s.LogLevel = logLevel
				if err := s.Validate(); err != nil {
					return err
				}
			}
			settings = s
			logger = s.NewLogger(os.Stderr)
			slog.SetDefault(logger)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to TOML config")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(serveCmd(), chatCmd(), sendFileCmd())
	return root.Execute()
}

// signalContext контекст, отменяемый по SIGINT и SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// startClient собирает клиент и запускает его в фоне. Возвращает канал
// с результатом Run.
func startClient(ctx context.Context) (*client.Client, <-chan error, error) {
	c, err := client.New(ctx, settings, logger)
	if err != nil {
		return nil, nil, err
	}
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
	}()
	return c, done, nil
}
