package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"cryptochat/internal/client"
	"cryptochat/internal/config"
	"cryptochat/internal/session"
	"cryptochat/storage"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "cryptochat",
	Short: "Chat client for the crypto assistant",
	Long: `cryptochat talks to the crypto assistant backend: streaming chat with
persistent session history, trending market data, crypto news and
newsletter subscriptions.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		godotenv.Load(".env")
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles the wired-up dependencies a command needs: config, the
// persistence gateway, the session store hydrated from it, and the chat
// client.
type app struct {
	cfg      *config.Config
	backing  storage.Store
	sessions *session.Store
	chat     *client.Client
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.NewConfig()

	backing, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open session storage: %w", err)
	}

	sessions := session.NewStore(backing, cfg.UserKey)
	if err := sessions.Load(ctx); err != nil {
		// a failed load leaves an empty collection; chatting still works
		slog.Error("Failed to load persisted sessions", "error", err)
	}

	return &app{
		cfg:      cfg,
		backing:  backing,
		sessions: sessions,
		chat:     client.NewClient(cfg),
	}, nil
}

func (a *app) close() {
	if err := a.backing.Close(); err != nil {
		slog.Error("Failed to close session storage", "error", err)
	}
}
