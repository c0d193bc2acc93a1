package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/counselhq/counsel/internal/store"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cases, documents, notes, and audit entries",
	Long: `List database contents in a simple text format.

Examples:
  # List all cases
  counsel list cases

  # List documents for a specific case
  counsel list documents --case-id case_123

  # List recent PDF documents
  counsel list documents --media-type pdf --limit 10

  # List notes for a case
  counsel list notes --case-id case_123

  # List the audit trail for a conversation context
  counsel list audit --context case:case_123`,
	RunE: runList,
}

var (
	listType      string
	listCaseID    string
	listLimit     int
	listSinceStr  string
	listUntilStr  string
	listMediaType string
	listContext   string
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listType, "type", "cases", "What to list: cases, documents, notes, audit")
	listCmd.Flags().StringVar(&listCaseID, "case-id", "", "Case ID for listing documents or notes")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum number of items to show")
	listCmd.Flags().StringVar(&listSinceStr, "since", "", "Filter documents since RFC3339 time, e.g. 2026-08-20T20:00:00Z")
	listCmd.Flags().StringVar(&listUntilStr, "until", "", "Filter documents until RFC3339 time, e.g. 2026-08-20T21:00:00Z")
	listCmd.Flags().StringVar(&listMediaType, "media-type", "", "Comma-separated media types, e.g. \"pdf,docx\"")
	listCmd.Flags().StringVar(&listContext, "context", "", "Context key filter for audit entries, e.g. global or case:case_123")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()

	st, err := store.NewStore(resolvePathRelativeToBase(getWorkingDir(), config.Database.Path))
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	// Determine what to list from args or flags
	var targetType string
	if len(args) > 0 {
		targetType = strings.ToLower(args[0])
	} else {
		targetType = strings.ToLower(listType)
	}

	switch targetType {
	case "cases":
		return listCases(ctx, st)
	case "documents", "docs":
		var since, until time.Time
		var err error
		if listSinceStr != "" {
			since, err = time.Parse(time.RFC3339, listSinceStr)
			if err != nil {
				return fmt.Errorf("invalid --since value: %w", err)
			}
		}
		if listUntilStr != "" {
			until, err = time.Parse(time.RFC3339, listUntilStr)
			if err != nil {
				return fmt.Errorf("invalid --until value: %w", err)
			}
		}
		var mediaTypes []string
		for _, mt := range strings.Split(listMediaType, ",") {
			if s := strings.TrimSpace(mt); s != "" {
				mediaTypes = append(mediaTypes, s)
			}
		}
		return listDocuments(ctx, st, listCaseID, since, until, mediaTypes, listLimit)
	case "notes":
		if listCaseID == "" {
			return fmt.Errorf("listing notes requires --case-id")
		}
		return listNotes(ctx, st, listCaseID)
	case "audit":
		return listAudit(ctx, st, listContext, listLimit)
	default:
		return fmt.Errorf("unknown list type: %s (use 'cases', 'documents', 'notes', or 'audit')", targetType)
	}
}

func listCases(ctx context.Context, st *store.Store) error {
	cases, err := st.ListCases(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cases: %w", err)
	}

	if len(cases) == 0 {
		fmt.Println("No cases found.")
		return nil
	}

	fmt.Printf("Found %d cases:\n\n", len(cases))

	for i, c := range cases {
		fmt.Printf("%d. [%s] %s\n", i+1, strings.ToUpper(c.Status), c.Title)
		fmt.Printf("   ID: %s\n", c.ID)
		if c.CaseType != "" {
			fmt.Printf("   Type: %s\n", c.CaseType)
		}
		fmt.Printf("   Origin: %s\n", c.Origin)
		fmt.Printf("   Messages: %d\n", c.MessageCount)
		fmt.Printf("   Created: %s\n", c.CreatedAt.Format("2006-01-02 15:04:05"))
		if c.Description != "" {
			fmt.Printf("   Description: %s\n", c.Description)
		}
		fmt.Println()
	}

	return nil
}

func listDocuments(ctx context.Context, st *store.Store, caseID string, since, until time.Time, mediaTypes []string, limit int) error {
	docs, err := st.ListDocuments(ctx, caseID, since, until, mediaTypes, limit, 0)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	total, err := st.CountDocuments(ctx, caseID, since, until, mediaTypes)
	if err != nil {
		return fmt.Errorf("failed to count documents: %w", err)
	}

	if caseID != "" {
		fmt.Printf("Documents for case %s", caseID)
	} else {
		fmt.Printf("Documents (all cases)")
	}
	if !since.IsZero() || !until.IsZero() {
		fmt.Printf(" filtered by time")
	}
	fmt.Printf(":\n\n")

	if len(docs) == 0 {
		fmt.Println("No documents found.")
		return nil
	}

	fmt.Printf("Showing %d of %d documents:\n\n", len(docs), total)

	for i, doc := range docs {
		fmt.Printf("%d. [%s] %s\n", i+1, strings.ToUpper(doc.MediaType), doc.FileName)
		fmt.Printf("   ID: %s\n", doc.ID)
		if doc.CaseID != "" {
			fmt.Printf("   Case: %s\n", doc.CaseID)
		} else {
			fmt.Printf("   Case: (unassigned)\n")
		}
		fmt.Printf("   Size: %d bytes\n", doc.SizeBytes)
		if doc.Confidence > 0 {
			fmt.Printf("   Suggestion confidence: %.2f\n", doc.Confidence)
		}
		fmt.Printf("   Analyzed: %s\n", doc.CreatedAt.Format("2006-01-02 15:04:05"))
		if doc.Summary != "" {
			fmt.Printf("   Summary: %s\n", doc.Summary)
		}
		fmt.Println()
	}

	return nil
}

func listNotes(ctx context.Context, st *store.Store, caseID string) error {
	notes, err := st.GetNotes(ctx, caseID)
	if err != nil {
		return fmt.Errorf("failed to list notes for case %s: %w", caseID, err)
	}

	if len(notes) == 0 {
		fmt.Println("No notes found.")
		return nil
	}

	fmt.Printf("Found %d notes for case %s:\n\n", len(notes), caseID)

	for i, n := range notes {
		marker := " "
		if n.Pinned {
			marker = "*"
		}
		fmt.Printf("%d.%s %s\n", i+1, marker, n.Content)
		fmt.Printf("   ID: %s\n", n.ID)
		if n.Author != "" {
			fmt.Printf("   Author: %s\n", n.Author)
		}
		if n.LinkedID != "" {
			fmt.Printf("   Linked %s: %s\n", n.LinkedType, n.LinkedID)
		}
		fmt.Printf("   Created: %s\n", n.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Println()
	}

	return nil
}

func listAudit(ctx context.Context, st *store.Store, contextKey string, limit int) error {
	entries, err := st.GetAuditEntries(ctx, contextKey, limit)
	if err != nil {
		return fmt.Errorf("failed to list audit entries: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries found.")
		return nil
	}

	fmt.Printf("Showing %d audit entries:\n\n", len(entries))

	for i, e := range entries {
		fmt.Printf("%d. [%s] %s\n", i+1, e.Timestamp.Format("2006-01-02 15:04:05"), e.Action)
		fmt.Printf("   Context: %s\n", e.ContextKey)
		if e.CaseID != "" {
			fmt.Printf("   Case: %s\n", e.CaseID)
		}
		if e.DocumentID != "" {
			fmt.Printf("   Document: %s\n", e.DocumentID)
		}
		if e.Actor != "" {
			fmt.Printf("   Actor: %s\n", e.Actor)
		}
		if len(e.Details) > 0 {
			fmt.Printf("   Details: %v\n", e.Details)
		}
		fmt.Println()
	}

	return nil
}
