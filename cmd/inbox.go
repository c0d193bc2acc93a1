package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/counselhq/counsel/internal/convstore"
	"github.com/counselhq/counsel/internal/engine"
	"github.com/counselhq/counsel/internal/inbox"
	"github.com/counselhq/counsel/internal/llm"
	"github.com/counselhq/counsel/internal/store"
)

var (
	inboxDir      string
	inboxWatch    bool
	inboxPatterns string
	inboxContext  string
)

// inboxCmd represents the inbox command
var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Analyze documents from a directory (optionally watch for changes)",
	Long: `Analyze documents from a directory. Each matching file is run through the
document analysis pipeline and recorded in the conversation, exactly as
if it had been uploaded.

Examples:
  # One-shot: analyze existing files and exit
  counsel inbox --dir ./downloads

  # Watch mode: keep running and analyze files as they appear
  counsel inbox --dir ./downloads --watch

  # Restrict to PDFs, analyzing into a case conversation
  counsel inbox --dir ./downloads --pattern "*.pdf" --context case_1700000000000000000`,
	RunE: runInbox,
}

func init() {
	rootCmd.AddCommand(inboxCmd)

	inboxCmd.Flags().StringVar(&inboxDir, "dir", "", "Directory to read documents from (required)")
	inboxCmd.MarkFlagRequired("dir")

	inboxCmd.Flags().BoolVar(&inboxWatch, "watch", false, "Watch directory for new documents")
	inboxCmd.Flags().StringVar(&inboxPatterns, "pattern", "", "Comma-separated glob patterns to match (default: supported document types)")
	inboxCmd.Flags().StringVar(&inboxContext, "context", "", "Context to analyze into: \"global\" or a case ID (default: last active)")
}

func runInbox(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()

	logger := log.New(os.Stderr, "[inbox] ", log.LstdFlags)
	baseDir := getWorkingDir()

	st, err := store.NewStore(resolvePathRelativeToBase(baseDir, config.Database.Path))
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	conv, err := convstore.Open(resolvePathRelativeToBase(baseDir, config.Conversations.Dir), log.New(io.Discard, "", 0))
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer conv.Close()

	eng, err := engine.New(engine.Options{
		Conversations: conv,
		Cases:         st,
		Provider:      llm.NewStub(log.New(io.Discard, "", 0)),
		Logger:        logger,
		MaxDocBytes:   config.Engine.MaxDocBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer eng.Close()

	if inboxContext != "" {
		key, err := parseContextArg(inboxContext)
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

	var patterns []string
	for _, p := range strings.Split(inboxPatterns, ",") {
		if s := strings.TrimSpace(p); s != "" {
			patterns = append(patterns, s)
		}
	}

	opts := inbox.Options{
		Dir:      inboxDir,
		Watch:    inboxWatch,
		Patterns: patterns,
		Logger:   logger,
	}

	logger.Printf("Starting inbox dir=%s watch=%v context=%s", opts.Dir, opts.Watch, eng.ActiveContext())

	watcher := inbox.NewWatcher(eng, opts)
	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("inbox error: %w", err)
	}

	analyzed, failed := watcher.Stats()
	logger.Printf("Inbox completed: %d analyzed, %d failed", analyzed, failed)
	return nil
}
