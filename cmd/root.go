package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/pixelvault/internal/config"
	"github.com/andresmejia3/pixelvault/internal/utils"
)

// Options holds per-command flag values for send, fingerprint, generate,
// journal and reset.
type Options struct {
	Watch  bool
	Settle time.Duration

	Algorithm  string
	DecodeMode string
	Width      int
	Height     int
	Channels   int
	ShowCID    bool
	History    bool

	OutputDir  string
	Unique     int
	Duplicates int
	Reencoded  int
	Seed       int64

	Limit int
	Yes   bool
}

var (
	// configPath is the KEY=value file read by serve, send and reset
	configPath string
	logLevel   string
	logFormat  string
	// dbURL overrides JOURNAL_URL
	dbURL string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "pixelvault",
	Short:   "Content-deduplicating image collector",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(logLevel, logFormat)
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Configuration file (KEY=value lines)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text or json)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL journal connection string (overrides JOURNAL_URL)")
}

func setupLogging(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "invalid --log-level")
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stderr)

	switch format {
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return errors.Errorf("invalid --log-format %q (want text or json)", format)
	}
	return nil
}

// loadConfig reads the configuration file or exits.
func loadConfig() config.File {
	file, err := config.Load(configPath)
	if err != nil {
		utils.Die("Failed to load configuration", err)
	}
	return file
}

// journalURL picks the journal connection string: the --db flag, then the
// configured value, then POSTGRES_* environment variables. Empty means the
// journal is disabled.
func journalURL(configured string) string {
	if dbURL != "" {
		return dbURL
	}
	if configured != "" {
		return configured
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	return ""
}

// configuredJournalURL is journalURL for commands that do not require a
// configuration file: JOURNAL_URL is used only if the file can be read.
func configuredJournalURL() string {
	var configured string
	if file, err := config.Load(configPath); err == nil {
		configured = file["JOURNAL_URL"]
	}
	return journalURL(configured)
}
