package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"huddle/internal/config"
	"huddle/internal/relay"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "huddle",
	Short:         "Group chat and call client with a development relay",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a room from the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runJoin(cmd.Context(), cfg, os.Stdin, os.Stdout)
	},
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the development relay server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runRelay(cmd.Context(), cfg)
	},
}

var (
	flagRoom     string
	flagUser     string
	flagChatURL  string
	flagFilesURL string
	flagDB       string
	flagStore    string
	flagAddr     string
	flagUploads  string
	flagLogLevel string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error (env LOG_LEVEL)")

	join := joinCmd.Flags()
	join.StringVar(&flagRoom, "room", "", "room to join (env HUDDLE_ROOM)")
	join.StringVar(&flagUser, "user", "", "display name (env HUDDLE_USER)")
	join.StringVar(&flagChatURL, "chat-url", "", "chat endpoint template with a {room} placeholder (env HUDDLE_CHAT_URL)")
	join.StringVar(&flagFilesURL, "files-url", "", "base URL of the file endpoints (env HUDDLE_FILES_URL)")
	join.StringVar(&flagDB, "db", "", "local database path (env HUDDLE_DB)")
	join.StringVar(&flagStore, "store", "", "bbolt or pebble (env HUDDLE_STORE)")

	relayFlags := relayCmd.Flags()
	relayFlags.StringVar(&flagAddr, "addr", "", "listen address (env RELAY_ADDR)")
	relayFlags.StringVar(&flagUploads, "uploads", "", "upload directory (env RELAY_UPLOADS)")

	rootCmd.AddCommand(joinCmd, relayCmd)
}

// loadConfig reads env and .env, then applies the flags that were set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	overrides := []struct {
		flag  string
		dst   *string
		value string
	}{
		{"room", &cfg.Room, flagRoom},
		{"user", &cfg.UserName, flagUser},
		{"chat-url", &cfg.ChatURL, flagChatURL},
		{"files-url", &cfg.FilesURL, flagFilesURL},
		{"db", &cfg.DBFile, flagDB},
		{"store", &cfg.Store, flagStore},
		{"addr", &cfg.RelayAddr, flagAddr},
		{"uploads", &cfg.RelayUploads, flagUploads},
		{"log-level", &cfg.LogLevel, flagLogLevel},
	}
	for _, o := range overrides {
		if cmd.Flags().Changed(o.flag) {
			*o.dst = o.value
		}
	}

	setupLogging(cfg.LogLevel)
	return cfg, nil
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

func runRelay(ctx context.Context, cfg *config.Config) error {
	server, err := relay.NewServer(relay.Config{
		Addr:    cfg.RelayAddr,
		Uploads: cfg.RelayUploads,
	})
	if err != nil {
		return err
	}
	return server.Run(ctx)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("huddle")
	}
}
