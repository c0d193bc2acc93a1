package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	dbPath    string
	convDir   string
	redisURL  string
	logLevel  string
	llmConfig string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "counsel",
	Short: "Conversational legal assistant with case-scoped context",
	Long: `Counsel is a conversational legal assistant. It streams replies from a
configurable LLM backend, keeps one conversation per legal case plus a
shared global conversation, and turns uploaded documents into analysis
results and case suggestions.

Features:
- Streaming chat with cancel support and per-case conversation contexts
- Document analysis pipeline with type and size validation
- Case management with duplicate detection and guided first steps
- SQLite storage with full-text search, notes, and an audit trail
- Redis Streams event feed for external consumers`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.counsel.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./data/counsel.db", "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&convDir, "conversations", "./data/conversations", "Conversation store directory")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis", "redis://localhost:6379", "Redis connection URL for the event feed")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&llmConfig, "llm-settings", "config/llm_settings.json", "LLM provider settings file")

	// Bind flags to viper
	viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("conversations.dir", rootCmd.PersistentFlags().Lookup("conversations"))
	viper.BindPFlag("redis.url", rootCmd.PersistentFlags().Lookup("redis"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("llm.settings", rootCmd.PersistentFlags().Lookup("llm-settings"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".counsel" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".counsel")
	}

	// COUNSEL_API_TOKEN overrides api.token, and so on.
	viper.SetEnvPrefix("COUNSEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	// Set defaults
	viper.SetDefault("database.path", "./data/counsel.db")
	viper.SetDefault("conversations.dir", "./data/conversations")
	viper.SetDefault("redis.url", "redis://localhost:6379")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("llm.settings", "config/llm_settings.json")
	viper.SetDefault("api.bind", "127.0.0.1:8080")
	viper.SetDefault("api.token", "")
	viper.SetDefault("api.rps", 10)
	viper.SetDefault("api.burst", 20)
	viper.SetDefault("inbox.dir", "data/inbox")
	viper.SetDefault("inbox.enable", true)
	viper.SetDefault("engine.history_limit", 40)
	viper.SetDefault("engine.max_doc_bytes", int64(10*1024*1024))
}

// GetConfig returns the current configuration values
func GetConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Path: viper.GetString("database.path"),
		},
		Conversations: ConversationsConfig{
			Dir: viper.GetString("conversations.dir"),
		},
		Redis: RedisConfig{
			URL: viper.GetString("redis.url"),
		},
		Log: LogConfig{
			Level: viper.GetString("log.level"),
		},
		LLM: LLMConfig{
			Settings: viper.GetString("llm.settings"),
		},
		API: APIConfig{
			Bind:  viper.GetString("api.bind"),
			Token: viper.GetString("api.token"),
			RPS:   viper.GetInt("api.rps"),
			Burst: viper.GetInt("api.burst"),
		},
		Inbox: InboxConfig{
			Dir:    viper.GetString("inbox.dir"),
			Enable: viper.GetBool("inbox.enable"),
		},
		Engine: EngineConfig{
			HistoryLimit: viper.GetInt("engine.history_limit"),
			MaxDocBytes:  viper.GetInt64("engine.max_doc_bytes"),
		},
	}
}

// Config represents the application configuration
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Conversations ConversationsConfig `mapstructure:"conversations"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Log           LogConfig           `mapstructure:"log"`
	LLM           LLMConfig           `mapstructure:"llm"`
	API           APIConfig           `mapstructure:"api"`
	Inbox         InboxConfig         `mapstructure:"inbox"`
	Engine        EngineConfig        `mapstructure:"engine"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type ConversationsConfig struct {
	Dir string `mapstructure:"dir"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type LLMConfig struct {
	Settings string `mapstructure:"settings"`
}

type APIConfig struct {
	Bind  string `mapstructure:"bind"`
	Token string `mapstructure:"token"`
	RPS   int    `mapstructure:"rps"`
	Burst int    `mapstructure:"burst"`
}

type InboxConfig struct {
	Dir    string `mapstructure:"dir"`
	Enable bool   `mapstructure:"enable"`
}

type EngineConfig struct {
	HistoryLimit int   `mapstructure:"history_limit"`
	MaxDocBytes  int64 `mapstructure:"max_doc_bytes"`
}
