package commands

import (
	"mime"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/arzzra/rcs_client/pkg/session"
	"github.com/arzzra/rcs_client/pkg/transfer"
)

func sendFileCmd() *cobra.Command {
	var (
		chatID    string
		mimeType  string
		thumbPath string
	)

	cmd := &cobra.Command{
		Use:   "send-file <contact> <path>",
		Short: "Upload a file to the transfer server and send its link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := localContent(args[1], mimeType)
			if err != nil {
				return err
			}
			var thumb []byte
			if thumbPath != "" {
				if thumb, err = os.ReadFile(thumbPath); err != nil {
					return errors.Wrap(err, "read thumbnail")
				}
			}

			ctx, stop := signalContext()
			defer stop()

			c, done, err := startClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			p := newPrinter(logger)
			ft, err := c.Directory().NewFileTransfer(args[0], content, thumb, chatID)
			if err != nil {
				return err
			}
			ft.AddListener(p)
			ft.Start()

			select {
			case <-ft.Done():
				if ft.State() != session.StateTerminated {
					return errors.Errorf("file transfer finished in state %s", ft.State())
				}
				return nil
			case err := <-done:
				return err
			}
		},
	}
	cmd.Flags().StringVar(&chatID, "chat-id", "", "send the file link into this chat session")
	cmd.Flags().StringVar(&mimeType, "type", "", "content type (default: from file extension)")
	cmd.Flags().StringVar(&thumbPath, "thumbnail", "", "JPEG thumbnail to upload with the file")
	return cmd
}

func localContent(path, mimeType string) (transfer.Content, error) {
	st, err := os.Stat(path)
	if err != nil {
		return transfer.Content{}, errors.Wrap(err, "stat file")
	}
	if st.IsDir() {
		return transfer.Content{}, errors.Errorf("%s is a directory", path)
	}
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(path))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return transfer.Content{
		Path:     path,
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Size:     st.Size(),
	}, nil
}
