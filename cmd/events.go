package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/counselhq/counsel/internal/bus"
)

var (
	eventsGroup    string
	eventsConsumer string
	eventsRaw      bool
)

// eventsCmd represents the events command
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow the engine event feed from Redis Streams",
	Long: `Follow engine events published to Redis Streams by a running counsel
server. Each line shows when the event happened, its kind, and the
conversation context it belongs to.

The command joins a consumer group, so several followers can split the
feed, and runs until interrupted (Ctrl+C).

Examples:
  # Follow events with the default group
  counsel events

  # Follow with a dedicated group and consumer name
  counsel events --group audit-tail --consumer box-1

  # Print the raw event JSON
  counsel events --raw`,
	RunE: runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().StringVar(&eventsGroup, "group", "counsel-cli", "Consumer group to join")
	eventsCmd.Flags().StringVar(&eventsConsumer, "consumer", "", "Consumer name within the group (default: generated)")
	eventsCmd.Flags().BoolVar(&eventsRaw, "raw", false, "Print the raw event JSON instead of the summary line")
}

func runEvents(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()

	logger := log.New(os.Stderr, "[events] ", log.LstdFlags)

	if config.Redis.URL == "" {
		return fmt.Errorf("no Redis URL configured; the event feed needs a running Redis (--redis)")
	}

	eventBus, err := bus.NewRedisBus(config.Redis.URL, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer eventBus.Close()

	consumer := eventsConsumer
	if consumer == "" {
		consumer = "cli-" + uuid.NewString()[:8]
	}

	logger.Printf("Following events as %s/%s (Ctrl+C to stop)", eventsGroup, consumer)

	handler := func(ctx context.Context, ev bus.EventMessage) error {
		if eventsRaw {
			fmt.Println(ev.RawJSON)
			return nil
		}
		ts := time.Unix(ev.Timestamp, 0).Format("2006-01-02 15:04:05")
		line := fmt.Sprintf("%s  %-24s %s", ts, ev.Kind, ev.Context)
		if detail := eventDetail(ev.RawJSON); detail != "" {
			line += "  " + detail
		}
		fmt.Println(line)
		return nil
	}

	if err := eventBus.ReadEventsStream(ctx, eventsGroup, consumer, handler); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("event feed error: %w", err)
	}
	return nil
}

// eventDetail pulls a short human-readable fragment out of the event JSON.
func eventDetail(raw string) string {
	var ev struct {
		Delta   string `json:"delta"`
		CaseID  string `json:"case_id"`
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return ""
	}
	switch {
	case ev.Delta != "":
		return truncate(ev.Delta, 60)
	case ev.Message != nil && ev.Message.Content != "":
		return truncate(ev.Message.Content, 60)
	case ev.CaseID != "":
		return ev.CaseID
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
