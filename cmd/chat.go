package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"cryptochat/internal/chat"
	"cryptochat/internal/client"
	"cryptochat/internal/session"
)

var noStream bool

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat with the assistant",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.close()

		app.sessions.Create(ctx)

		var streamer session.Streamer = app.chat
		if noStream {
			streamer = client.CompletionStreamer{Client: app.chat}
		}

		fmt.Println("Ask about crypto prices, exchange rates... (ctrl-d to quit)")
		reader := bufio.NewReader(os.Stdin)
		for {
			fmt.Print("> ")
			line, err := reader.ReadString('\n')
			if err == io.EOF {
				fmt.Println()
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			question := strings.TrimSpace(line)
			if question == "" {
				continue
			}

			runExchange(ctx, app.sessions, streamer, question)
		}
	},
}

func init() {
	chatCmd.Flags().BoolVar(&noStream, "no-stream", false, "use the non-streaming chat endpoint")
	rootCmd.AddCommand(chatCmd)
}

// runExchange sends one question through the session store, echoing tokens
// as they arrive. A failed exchange is already recorded in the transcript
// as an error message, so the reply is printed either way.
func runExchange(ctx context.Context, sessions *session.Store, streamer session.Streamer, question string) {
	printed := false
	echo := echoStreamer{inner: streamer, out: os.Stdout, printed: &printed}

	err := sessions.Send(ctx, question, echo)
	if printed {
		fmt.Println()
	}
	if err == nil && printed {
		return
	}

	// nothing streamed to the terminal: print the committed reply
	current, lookupErr := sessions.Current()
	if lookupErr != nil || len(current.Messages) == 0 {
		return
	}
	last := current.Messages[len(current.Messages)-1]
	if last.Sender == chat.SenderBot {
		fmt.Println(last.Text)
	}
}

// echoStreamer decorates a Streamer, printing token content as it arrives
// before passing each event through.
type echoStreamer struct {
	inner   session.Streamer
	out     io.Writer
	printed *bool
}

func (e echoStreamer) Stream(ctx context.Context, message string, history []chat.Message, fn func(chat.StreamEvent) error) error {
	return e.inner.Stream(ctx, message, history, func(ev chat.StreamEvent) error {
		if ev.Type == chat.EventToken && ev.Content != "" {
			fmt.Fprint(e.out, ev.Content)
			*e.printed = true
		}
		return fn(ev)
	})
}
