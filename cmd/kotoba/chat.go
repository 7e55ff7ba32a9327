package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Kotoba/internal/kotoba/app"
	"github.com/bdobrica/Kotoba/internal/kotoba/session"
)

var chatSession string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant on the terminal",
	Long: `Read messages from stdin, one per line, and print the replies. The
conversation goes through the same session manager and handlers as the HTTP
API, including identity capture and archival. End with EOF or a goodbye.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatSession, "session", "", "session id (default: a new one)")
}

func runChat(cmd *cobra.Command, _ []string) error {
	a, err := app.New(cmd.Context(), holder, "", logger)
	if err != nil {
		return err
	}
	defer a.Close()

	id := chatSession
	if id == "" {
		id = session.NewID()
	}
	return chatLoop(cmd, a.Sessions(), id, cmd.InOrStdin(), cmd.OutOrStdout())
}

type chatter interface {
	Chat(ctx context.Context, id, text string) (session.Reply, error)
	Status(id string) session.Status
}

func chatLoop(cmd *cobra.Command, m chatter, id string, in io.Reader, out io.Writer) error {
	ctx := cmd.Context()
	if st := m.Status(id); st.Prompt != "" {
		fmt.Fprintln(out, st.Prompt)
	}

	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		reply, err := m.Chat(ctx, id, sc.Text())
		var inv *session.InvalidInputError
		switch {
		case errors.As(err, &inv):
			fmt.Fprintln(out, inv.Message)
			continue
		case err != nil:
			return err
		}
		fmt.Fprintln(out, reply.Text)
		if reply.Status.Terminated {
			return nil
		}
	}
}
