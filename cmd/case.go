package cmd

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/counselhq/counsel/internal/chat"
	"github.com/counselhq/counsel/internal/convstore"
	"github.com/counselhq/counsel/internal/engine"
	"github.com/counselhq/counsel/internal/llm"
	"github.com/counselhq/counsel/internal/store"
)

var (
	caseTitle       string
	caseDescription string
	casePurgeDocs   bool
)

// caseCmd groups case management subcommands.
var caseCmd = &cobra.Command{
	Use:   "case",
	Short: "Create, close, and manage cases",
	Long: `Create, close, and manage cases from the command line.

Examples:
  # Create a case and switch the conversation to it
  counsel case create --title "Smith v Jones" --description "Contract dispute"

  # Close a case (the conversation is kept)
  counsel case close case_1700000000000000000

  # Delete a case and keep its documents unassigned
  counsel case delete case_1700000000000000000

  # Delete a case together with its documents
  counsel case delete --purge-documents case_1700000000000000000

  # Attach an unassigned document to a case
  counsel case attach doc_1700000000000000001 case_1700000000000000000`,
}

var caseCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a case and switch the conversation to it",
	RunE:  runCaseCreate,
}

var caseCloseCmd = &cobra.Command{
	Use:   "close <case-id>",
	Short: "Mark a case as closed",
	Args:  cobra.ExactArgs(1),
	RunE:  runCaseClose,
}

var caseDeleteCmd = &cobra.Command{
	Use:   "delete <case-id>",
	Short: "Delete a case",
	Args:  cobra.ExactArgs(1),
	RunE:  runCaseDelete,
}

var caseAttachCmd = &cobra.Command{
	Use:   "attach <document-id> <case-id>",
	Short: "Assign a document to a case",
	Args:  cobra.ExactArgs(2),
	RunE:  runCaseAttach,
}

func init() {
	rootCmd.AddCommand(caseCmd)
	caseCmd.AddCommand(caseCreateCmd)
	caseCmd.AddCommand(caseCloseCmd)
	caseCmd.AddCommand(caseDeleteCmd)
	caseCmd.AddCommand(caseAttachCmd)

	caseCreateCmd.Flags().StringVar(&caseTitle, "title", "", "Case title (required)")
	caseCreateCmd.MarkFlagRequired("title")
	caseCreateCmd.Flags().StringVar(&caseDescription, "description", "", "Case description")

	caseDeleteCmd.Flags().BoolVar(&casePurgeDocs, "purge-documents", false, "Also delete documents assigned to the case")
}

// runCaseCreate goes through the engine so duplicate detection, the
// context switch, and the guidance message all apply.
func runCaseCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()

	quiet := log.New(io.Discard, "", 0)
	baseDir := getWorkingDir()

	st, err := store.NewStore(resolvePathRelativeToBase(baseDir, config.Database.Path))
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	conv, err := convstore.Open(resolvePathRelativeToBase(baseDir, config.Conversations.Dir), quiet)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer conv.Close()

	eng, err := engine.New(engine.Options{
		Conversations: conv,
		Cases:         st,
		Provider:      llm.NewStub(quiet),
		Logger:        quiet,
	})
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer eng.Close()

	created, err := eng.CreateCase(ctx, chat.SuggestedCase{
		Title:       caseTitle,
		Description: caseDescription,
	}, "manual")
	if err != nil {
		var dup *engine.DuplicateCaseError
		if errors.As(err, &dup) {
			return fmt.Errorf("a case titled %q already exists (%s); switch to it with: counsel chat --context %s",
				dup.Existing.Title, dup.Existing.ID, dup.Existing.ID)
		}
		var sw *engine.ContextSwitchError
		if errors.As(err, &sw) {
			fmt.Printf("Case %s created, but switching the conversation failed: %v\n", sw.CaseID, sw.Err)
			fmt.Printf("Retry with: counsel chat --context %s\n", sw.CaseID)
			return nil
		}
		return err
	}

	fmt.Printf("Created case %s: %s\n", created.ID, created.Title)
	fmt.Printf("Conversation switched to case %s\n", created.ID)
	return nil
}

func runCaseClose(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()

	st, err := store.NewStore(resolvePathRelativeToBase(getWorkingDir(), config.Database.Path))
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	caseID := args[0]
	c, err := st.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	if err := st.CloseCase(ctx, caseID); err != nil {
		return fmt.Errorf("failed to close case %s: %w", caseID, err)
	}
	fmt.Printf("Closed case %s: %s\n", c.ID, c.Title)
	return nil
}

func runCaseDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()

	st, err := store.NewStore(resolvePathRelativeToBase(getWorkingDir(), config.Database.Path))
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	caseID := args[0]
	c, err := st.GetCase(ctx, caseID)
	if err != nil {
		return err
	}

	if casePurgeDocs {
		docs, err := st.ListDocuments(ctx, caseID, time.Time{}, time.Time{}, nil, 0, 0)
		if err != nil {
			return fmt.Errorf("failed to list documents for case %s: %w", caseID, err)
		}
		ids := make([]string, 0, len(docs))
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
		if len(ids) > 0 {
			if err := st.DeleteDocuments(ctx, ids); err != nil {
				return fmt.Errorf("failed to delete documents for case %s: %w", caseID, err)
			}
			fmt.Printf("Deleted %d documents\n", len(ids))
		}
	}

	if err := st.DeleteCaseAndUnassign(ctx, caseID); err != nil {
		return fmt.Errorf("failed to delete case %s: %w", caseID, err)
	}
	fmt.Printf("Deleted case %s: %s\n", c.ID, c.Title)
	if !casePurgeDocs {
		fmt.Println("Documents were kept and are now unassigned.")
	}
	return nil
}

func runCaseAttach(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()

	st, err := store.NewStore(resolvePathRelativeToBase(getWorkingDir(), config.Database.Path))
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	docID, caseID := args[0], args[1]
	if _, err := st.GetCase(ctx, caseID); err != nil {
		return err
	}
	if err := st.AssignDocumentToCase(ctx, docID, caseID); err != nil {
		return fmt.Errorf("failed to assign document %s to case %s: %w", docID, caseID, err)
	}
	fmt.Printf("Assigned document %s to case %s\n", docID, caseID)
	return nil
}
