package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/counselhq/counsel/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed sample cases, documents, and notes into the database",
	Long: `Seed sample cases with associated documents and notes into the SQLite
database. This is useful for local testing when the database is empty.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	config := GetConfig()

	logger := log.New(cmd.OutOrStdout(), "[seed] ", log.LstdFlags)
	logger.Println("Seeding sample data...")

	st, err := store.NewStore(resolvePathRelativeToBase(getWorkingDir(), config.Database.Path))
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	cases, err := st.ListCases(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cases: %w", err)
	}

	if len(cases) == 0 {
		logger.Println("No cases found, creating sample cases...")
		sampleCases := []store.Case{
			{
				Title:       "Employment dispute with Meridian Logistics",
				CaseType:    "employment",
				Description: "Dismissed without notice after reporting overtime violations",
				Status:      "open",
				Origin:      "manual",
			},
			{
				Title:       "Tenancy deposit recovery",
				CaseType:    "tenancy",
				Description: "Landlord withholding deposit over pre-existing damage",
				Status:      "open",
				Origin:      "document",
			},
			{
				Title:       "Unpaid invoices for renovation work",
				CaseType:    "debt",
				Description: "Client refuses to pay the final two invoices for completed work",
				Status:      "open",
				Origin:      "manual",
			},
		}

		for _, c := range sampleCases {
			if _, err := st.CreateOrUpdateCase(ctx, c); err != nil {
				logger.Printf("Failed to create sample case: %v", err)
			}
		}
		// Reload cases to get IDs
		cases, err = st.ListCases(ctx)
		if err != nil {
			return fmt.Errorf("failed to list cases after creation: %w", err)
		}
	}

	// For each case without documents, attach sample documents and a note
	for _, c := range cases {
		total, err := st.CountDocuments(ctx, c.ID, time.Time{}, time.Time{}, nil)
		if err != nil {
			logger.Printf("Failed to count documents for case %s: %v", c.ID, err)
			continue
		}
		if total > 0 {
			logger.Printf("Case %s already has %d documents, skipping", c.ID, total)
			continue
		}

		logger.Printf("Seeding documents for case %s (%s)...", c.ID, c.Title)
		now := time.Now()
		sampleDocs := []store.Document{
			{
				CaseID:     c.ID,
				FileName:   "intake_summary.txt",
				MediaType:  "txt",
				SizeBytes:  1421,
				Summary:    fmt.Sprintf("Intake notes for %s covering the timeline and the parties involved.", c.Title),
				Confidence: 0.82,
				CreatedAt:  now.Add(-2 * time.Hour),
			},
			{
				CaseID:    c.ID,
				FileName:  "evidence_scan.pdf",
				MediaType: "pdf",
				SizeBytes: 48233,
				Summary:   "Uploaded pdf document evidence_scan.pdf (48233 bytes). Content was not extracted.",
				CreatedAt: now.Add(-1 * time.Hour),
			},
		}
		for _, doc := range sampleDocs {
			if _, err := st.SaveDocument(ctx, doc); err != nil {
				logger.Printf("Failed to save sample document: %v", err)
			}
		}

		if _, err := st.AddNote(ctx, store.Note{
			CaseID:  c.ID,
			Content: fmt.Sprintf("Initial review done for %q. Gather any written communication before the first consultation.", c.Title),
			Author:  "seed",
			Pinned:  true,
		}); err != nil {
			logger.Printf("Failed to add sample note: %v", err)
		}

		logger.Printf("Seeded documents and a note for case %s", c.ID)
	}

	logger.Println("Seeding completed")
	return nil
}
