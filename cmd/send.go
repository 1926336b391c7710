package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/pixelvault/internal/client"
	"github.com/andresmejia3/pixelvault/internal/utils"
)

var sendOpts Options

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Submit every image in IMAGES_FOLDER to the collector",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runSend(cmd.Context(), sendOpts)
	},
}

func init() {
	sendCmd.Flags().BoolVarP(&sendOpts.Watch, "watch", "w", false, "Keep running and submit images added to the folder")
	sendCmd.Flags().DurationVar(&sendOpts.Settle, "settle", client.DefaultSettle, "How long a watched file must stay unchanged before it is sent")
	rootCmd.AddCommand(sendCmd)
}

func runSend(ctx context.Context, opts Options) {
	cfg, err := loadConfig().Client()
	if err != nil {
		utils.Die("Invalid client configuration", err)
	}

	ccfg := client.Config{
		Addr:         cfg.Addr(),
		MaxFrameSize: cfg.MaxFrameBytes,
		FrameTimeout: cfg.FrameTimeout,
		Ack:          cfg.Ack,
	}
	r := &client.Runner{
		MaxFrameSize: ccfg.MaxFrameSize,
		Progress:     os.Stderr,
		Settle:       opts.Settle,
		Log:          log.WithField("component", "client"),
	}

	var s *client.Session
	if opts.Watch {
		// A quiet folder holds no connection; each batch dials its own.
		r.Dial = func(ctx context.Context) (client.SubmitCloser, error) {
			c, err := client.Dial(ctx, ccfg)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
		fmt.Fprintf(os.Stderr, "👀 Watching %s for %s (Ctrl+C to stop)\n", cfg.ImagesFolder, cfg.Addr())
		s, err = r.Watch(ctx, cfg.ImagesFolder, cfg.Extensions)
	} else {
		c, derr := client.Dial(ctx, ccfg)
		if derr != nil {
			utils.Die("Failed to connect to server", derr)
		}
		defer c.Close()
		fmt.Fprintf(os.Stderr, "📡 Connected to %s\n", cfg.Addr())
		r.Submitter = c

		paths, lerr := utils.ListImages(cfg.ImagesFolder, cfg.Extensions)
		if lerr != nil {
			utils.Die("Failed to list images", lerr)
		}
		if len(paths) == 0 {
			fmt.Fprintf(os.Stderr, "⚠️  No %v images found in %s\n", cfg.Extensions, cfg.ImagesFolder)
		}
		s, err = r.SendFiles(ctx, paths)
	}

	log.WithFields(s.Fields()).Info("Session finished")
	fmt.Fprintf(os.Stderr, "✅ %s\n", s.Summary())
	if err != nil && !errors.Is(err, context.Canceled) {
		utils.Die("Transmission aborted", err)
	}
}
