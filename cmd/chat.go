package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/counselhq/counsel/internal/chat"
	"github.com/counselhq/counsel/internal/convstore"
	"github.com/counselhq/counsel/internal/engine"
	"github.com/counselhq/counsel/internal/llm"
	"github.com/counselhq/counsel/internal/store"
)

var chatContext string

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send one message and stream the reply to the terminal",
	Long: `Send a single message to the assistant and print the streamed reply.
The conversation is persisted, so consecutive invocations continue where
the previous one left off.

Examples:
  # Ask in the shared global conversation
  counsel chat "What should I do about my broken lease?"

  # Ask inside a case conversation
  counsel chat --context case_1700000000000000000 "What are my next deadlines?"`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVar(&chatContext, "context", "", "Context to chat in: \"global\" or a case ID (default: last active)")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()

	logger := log.New(io.Discard, "", 0)
	baseDir := getWorkingDir()

	st, err := store.NewStore(resolvePathRelativeToBase(baseDir, config.Database.Path))
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	conv, err := convstore.Open(resolvePathRelativeToBase(baseDir, config.Conversations.Dir), logger)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer conv.Close()

	settings, err := llm.LoadSettings(config.LLM.Settings)
	if err != nil {
		settings = llm.DefaultSettings()
	}
	provider, err := llm.Build(ctx, settings.Active, logger)
	if err != nil || provider == nil {
		fmt.Fprintf(os.Stderr, "LLM provider unavailable (%v), using scripted stub\n", err)
		provider = llm.NewStub(logger)
	}

	eng, err := engine.New(engine.Options{
		Conversations: conv,
		Cases:         st,
		Provider:      provider,
		Logger:        logger,
		HistoryLimit:  config.Engine.HistoryLimit,
		MaxDocBytes:   config.Engine.MaxDocBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer eng.Close()

	// Move to the requested context first, if one was named.
	if chatContext != "" {
		key, err := parseContextArg(chatContext)
		if err != nil {
			return err
		}
		if key != eng.ActiveContext() {
			if key.IsCase() {
				_, err = eng.SwitchToCase(ctx, key.CaseID())
			} else {
				_, err = eng.SwitchContext(ctx, key)
			}
			if err != nil {
				return err
			}
		}
	}

	// Print deltas as they stream; the remainder check covers the note the
	// engine appends when a stream fails partway.
	var printed strings.Builder
	done := make(chan engine.Event, 1)
	eng.AddObserver(engine.ObserverFunc(func(ev engine.Event) {
		switch ev.Kind {
		case engine.EventDelta:
			printed.WriteString(ev.Delta)
			fmt.Print(ev.Delta)
		case engine.EventStreamCompleted, engine.EventStreamCancelled, engine.EventStreamFailed:
			select {
			case done <- ev:
			default:
			}
		}
	}))

	if _, err := eng.StartMessage(ctx, eng.ActiveContext(), args[0]); err != nil {
		return err
	}

	select {
	case ev := <-done:
		if ev.Message != nil {
			if rest := strings.TrimPrefix(ev.Message.Content, printed.String()); rest != "" {
				fmt.Print(rest)
			}
		}
		fmt.Println()
		if ev.Kind == engine.EventStreamCancelled {
			fmt.Fprintln(os.Stderr, "(stream cancelled)")
		}
	case <-ctx.Done():
		eng.CancelStream(eng.ActiveContext())
		fmt.Println()
	}
	return nil
}

// parseContextArg accepts "global", "case:<id>", or a bare case ID.
func parseContextArg(s string) (chat.ContextKey, error) {
	s = strings.TrimSpace(s)
	if s != "" && s != string(chat.GlobalContext) && !strings.Contains(s, ":") {
		return chat.CaseContext(s), nil
	}
	return chat.ParseContextKey(s)
}
