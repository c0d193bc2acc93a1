package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	confirmReset   bool
	resetRedis     bool
	resetDB        bool
	resetConvsOnly bool
)

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset conversations, database, and/or Redis data",
	Long: `Reset command clears the conversation store, the SQLite database, and
Redis data.

By default, all three are reset. You can selectively reset one target
using the --conversations-only, --db-only, or --redis-only flags.

WARNING: This operation is irreversible and will permanently delete all data.

Examples:
  # Reset everything (requires confirmation)
  counsel reset

  # Reset with automatic confirmation
  counsel reset --yes

  # Clear only conversations, keeping cases and documents
  counsel reset --conversations-only

  # Reset only the database
  counsel reset --db-only`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().BoolVarP(&confirmReset, "yes", "y", false, "Automatically confirm reset operation")
	resetCmd.Flags().BoolVar(&resetRedis, "redis-only", false, "Reset only Redis data")
	resetCmd.Flags().BoolVar(&resetDB, "db-only", false, "Reset only the database")
	resetCmd.Flags().BoolVar(&resetConvsOnly, "conversations-only", false, "Reset only the conversation store")
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Determine what to reset
	resetConvs := resetConvsOnly
	resetAll := !resetRedis && !resetDB && !resetConvsOnly
	if resetAll {
		resetRedis = true
		resetDB = true
		resetConvs = true
	}

	// Show what will be reset
	var targets []string
	if resetConvs {
		targets = append(targets, "conversation store")
	}
	if resetDB {
		targets = append(targets, "SQLite database")
	}
	if resetRedis {
		targets = append(targets, "Redis data")
	}

	fmt.Printf("This will permanently delete: %s\n", strings.Join(targets, " and "))

	// Confirm operation unless --yes flag is used
	if !confirmReset {
		fmt.Print("Are you sure you want to continue? (y/N): ")
		var response string
		fmt.Scanln(&response)
		if strings.ToLower(response) != "y" && strings.ToLower(response) != "yes" {
			fmt.Println("Reset operation cancelled.")
			return nil
		}
	}

	if resetConvs {
		if err := resetConversations(); err != nil {
			return fmt.Errorf("failed to reset conversation store: %w", err)
		}
		fmt.Println("✓ Conversation store cleared successfully")
	}

	if resetDB {
		if err := resetDatabase(); err != nil {
			return fmt.Errorf("failed to reset database: %w", err)
		}
		fmt.Println("✓ Database cleared successfully")
	}

	// Redis is last: a missing Redis should not abort the local deletes.
	if resetRedis {
		if err := resetRedisData(ctx); err != nil {
			fmt.Printf("Warning: Failed to reset Redis data: %v\n", err)
			if !resetDB && !resetConvs {
				// Only Redis was requested and it failed
				return fmt.Errorf("failed to reset Redis data: %w", err)
			}
		} else {
			fmt.Println("✓ Redis data cleared successfully")
		}
	}

	fmt.Println("Reset operation completed successfully!")
	return nil
}

func resetConversations() error {
	dir := viper.GetString("conversations.dir")
	if dir == "" {
		dir = "./data/conversations"
	}
	dir = resolvePathRelativeToBase(getWorkingDir(), dir)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		fmt.Println("No conversation store found to clear")
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove conversation store %s: %w", dir, err)
	}
	fmt.Printf("Removed conversation store: %s\n", dir)
	return nil
}

func resetDatabase() error {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "./data/counsel.db"
	}
	dbPath = resolvePathRelativeToBase(getWorkingDir(), dbPath)

	// Remove SQLite database files
	dbFiles := []string{
		dbPath,
		dbPath + "-shm", // Shared memory file
		dbPath + "-wal", // Write-ahead log file
	}

	var removedFiles []string
	for _, file := range dbFiles {
		if _, err := os.Stat(file); err == nil {
			if err := os.Remove(file); err != nil {
				return fmt.Errorf("failed to remove database file %s: %w", file, err)
			}
			removedFiles = append(removedFiles, filepath.Base(file))
		}
	}

	if len(removedFiles) == 0 {
		fmt.Println("No database files found to remove")
		return nil
	}

	fmt.Printf("Removed database files: %s\n", strings.Join(removedFiles, ", "))
	return nil
}

func resetRedisData(ctx context.Context) error {
	redisURL := viper.GetString("redis.url")
	if redisURL == "" {
		fmt.Println("No Redis configured, skipping")
		return nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keys, err := client.Keys(ctx, "*").Result()
	if err != nil {
		return fmt.Errorf("failed to get Redis keys: %w", err)
	}

	if len(keys) == 0 {
		fmt.Println("No Redis data found to clear")
		return nil
	}

	fmt.Printf("Clearing %d Redis keys/streams...\n", len(keys))

	if err := client.FlushDB(ctx).Err(); err != nil {
		return fmt.Errorf("failed to flush Redis database: %w", err)
	}

	return nil
}
