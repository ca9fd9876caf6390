package commands

import (
	"github.com/spf13/cobra"

	"github.com/arzzra/rcs_client/pkg/session"
)

// acceptor принимает все входящие сессии
type acceptor struct {
	session.NopCoreListener
}

func (acceptor) HandleIncomingChatSession(s *session.ChatSession) { s.Accept() }

func (acceptor) HandleIncomingFileTransfer(s *session.FileTransferSession) { s.Accept() }

func serveCmd() *cobra.Command {
	var acceptAll bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive chats and files until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			c, done, err := startClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			c.Directory().AddCoreListener(newPrinter(logger))
			if acceptAll {
				c.Directory().AddCoreListener(acceptor{})
			}
			logger.Info("Клиент запущен, ожидание входящих сессий")
			return <-done
		},
	}
	cmd.Flags().BoolVar(&acceptAll, "accept", false, "accept every incoming chat and file")
	return cmd
}
