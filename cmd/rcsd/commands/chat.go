package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/arzzra/rcs_client/pkg/session"
)

func chatCmd() *cobra.Command {
	var invite []string

	cmd := &cobra.Command{
		Use:   "chat <contact> [first message]",
		Short: "Open a chat and send lines from stdin",
		Long: "Opens a one-to-one chat, or a group chat when --invite is given. " +
			"Every stdin line is sent as a message. EOF terminates the session.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			c, done, err := startClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			p := newPrinter(logger)
			dir := c.Directory()
			dir.AddCoreListener(p)

			var first string
			if len(args) == 2 {
				first = args[1]
			}

			sess, err := openChat(dir, args[0], first, invite)
			if err != nil {
				return err
			}
			sess.AddListener(p)
			sess.Start()

			lines := make(chan string)
			go func() {
				defer close(lines)
				sc := bufio.NewScanner(os.Stdin)
				for sc.Scan() {
					lines <- sc.Text()
				}
			}()

			for {
				select {
				case line, ok := <-lines:
					if !ok {
						if err := sess.Terminate(context.Background()); err != nil && !errors.Is(err, session.ErrSessionClosed) {
							return err
						}
						<-sess.Done()
						return nil
					}
					if strings.TrimSpace(line) == "" {
						continue
					}
					if _, err := sess.SendText(ctx, line); err != nil {
						fmt.Fprintf(os.Stderr, "не отправлено: %v\n", err)
					}
				case s := <-p.finished:
					if s.ID() == sess.ID() {
						return nil
					}
				case err := <-done:
					return err
				}
			}
		},
	}
	cmd.Flags().StringSliceVar(&invite, "invite", nil, "additional participants for a group chat")
	return cmd
}

// chatter общий интерфейс чата один-на-один и группового
type chatter interface {
	session.Session
	SendText(ctx context.Context, text string) (string, error)
	Terminate(ctx context.Context) error
}

func openChat(dir *session.Directory, contact, first string, invite []string) (chatter, error) {
	if len(invite) > 0 {
		return dir.NewGroupChat("", append([]string{contact}, invite...))
	}
	if first == "" {
		return dir.NewOneOneChat(contact, nil)
	}
	return dir.NewOneOneChat(contact, dir.NewTextMessage(first))
}
