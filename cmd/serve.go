package cmd

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/pixelvault/internal/canon"
	"github.com/andresmejia3/pixelvault/internal/config"
	"github.com/andresmejia3/pixelvault/internal/fingerprint"
	"github.com/andresmejia3/pixelvault/internal/index"
	"github.com/andresmejia3/pixelvault/internal/ingest"
	"github.com/andresmejia3/pixelvault/internal/journal"
	"github.com/andresmejia3/pixelvault/internal/server"
	"github.com/andresmejia3/pixelvault/internal/storage"
	"github.com/andresmejia3/pixelvault/internal/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept images from senders and keep one copy of each distinct picture",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe runs the collector until the context is cancelled.
func runServe(ctx context.Context) {
	cfg, err := loadConfig().Server()
	if err != nil {
		utils.Die("Invalid server configuration", err)
	}

	p, err := newPipeline(cfg)
	if err != nil {
		utils.Die("Failed to initialize ingestion pipeline", err)
	}
	fmt.Fprintf(os.Stderr, "🗄️  Storing unique %s images in %s (%s names, %s)\n",
		cfg.Expect, cfg.StorageFolder, cfg.Naming, cfg.HashAlgo)

	var opts []server.Option
	if url := journalURL(cfg.JournalURL); url != "" {
		j, err := journal.New(ctx, url)
		if err != nil {
			utils.Die("Failed to open ingestion journal", err)
		}
		defer j.Close()
		opts = append(opts, server.WithJournal(j))
		fmt.Fprintln(os.Stderr, "📒 Journaling outcomes to PostgreSQL")
	}

	srv := server.New(server.Config{
		Addr:         cfg.Addr(),
		MaxFrameSize: cfg.MaxFrameBytes,
		FrameTimeout: cfg.FrameTimeout,
		Ack:          cfg.Ack,
	}, p, opts...)

	if err := srv.ListenAndServe(ctx); err != nil {
		utils.Die("Server failed", err)
	}

	t := srv.Totals()
	fmt.Fprintf(os.Stderr, "✨ Server stopped: %d frames, %d stored, %d duplicates, %d errors\n",
		t.Frames, t.Stored, t.Duplicates, t.Errors)
}

// newPipeline assembles the ingestion stages for cfg. With sequence naming
// the handle counter resumes after the files already in the folder.
func newPipeline(cfg config.Server) (*ingest.Pipeline, error) {
	engine, err := fingerprint.NewEngine(cfg.HashAlgo)
	if err != nil {
		return nil, err
	}

	codec := canon.StdCodec{Compression: cfg.Compression}
	store, err := storage.New(cfg.StorageFolder, cfg.Naming, codec)
	if err != nil {
		return nil, err
	}

	var first index.Handle
	if cfg.Naming == storage.NameBySequence {
		if first, err = storage.NextSequence(cfg.StorageFolder); err != nil {
			return nil, err
		}
	}

	return &ingest.Pipeline{
		Canon:  canon.New(codec, cfg.DecodeMode),
		Expect: cfg.Expect,
		Engine: engine,
		Index:  index.New(first),
		Store:  store,
		Log:    log.WithField("component", "ingest"),
	}, nil
}
