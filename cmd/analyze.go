package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/counselhq/counsel/internal/analysis"
	"github.com/counselhq/counsel/internal/convstore"
	"github.com/counselhq/counsel/internal/engine"
	"github.com/counselhq/counsel/internal/llm"
	"github.com/counselhq/counsel/internal/store"
)

var analyzeContext string

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Analyze a document and record the result",
	Long: `Analyze a single document. The document is validated, summarized, saved
to the database, and the result is appended to the active conversation.
When the analyzer proposes no case and no case is active, a fallback
suggestion named after the file is attached.

Supported types: pdf, docx, txt, png, jpg, jpeg.

Examples:
  # Analyze into the current conversation
  counsel analyze dismissal_letter.pdf

  # Analyze inside a case conversation
  counsel analyze --context case_1700000000000000000 contract.docx`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVar(&analyzeContext, "context", "", "Context to analyze in: \"global\" or a case ID (default: last active)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()

	logger := log.New(os.Stderr, "[analyze] ", log.LstdFlags)
	baseDir := getWorkingDir()

	path := args[0]
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

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

	// Analysis does not need a chat backend, so the stub provider is enough.
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

	if analyzeContext != "" {
		key, err := parseContextArg(analyzeContext)
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

	res, err := eng.AnalyzeDocument(ctx, eng.ActiveContext(), analysis.Document{
		FileName: filepath.Base(path),
		Content:  content,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Analyzed %s (%s, %d bytes)\n", res.FileName, res.MediaType, res.SizeBytes)
	fmt.Printf("Document ID: %s\n", res.DocumentID)
	fmt.Printf("Summary: %s\n", res.Summary)
	for _, kp := range res.KeyPoints {
		fmt.Printf("  - %s\n", kp)
	}
	if res.Suggestion != nil {
		fmt.Printf("Suggested case: %q (confidence %.2f)\n", res.Suggestion.Title, res.Suggestion.Confidence)
		fmt.Printf("Create it with: counsel case create --title %q\n", res.Suggestion.Title)
	}
	return nil
}
