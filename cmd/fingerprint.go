package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/pixelvault/internal/canon"
	"github.com/andresmejia3/pixelvault/internal/fingerprint"
	"github.com/andresmejia3/pixelvault/internal/journal"
)

var fpOpts Options

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <image_path>...",
	Short: "Print the content fingerprint the collector would assign to each image",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runFingerprint(cmd.Context(), os.Stdout, args, fpOpts)
	},
}

func init() {
	fingerprintCmd.Flags().StringVarP(&fpOpts.Algorithm, "algo", "a", fingerprint.DefaultAlgorithm, "Digest algorithm (multihash name, e.g. sha2-256, md5)")
	fingerprintCmd.Flags().StringVarP(&fpOpts.DecodeMode, "mode", "m", canon.ModeColor.String(), "Decode mode (color or unchanged)")
	fingerprintCmd.Flags().IntVar(&fpOpts.Width, "width", 0, "Required width (0 accepts any)")
	fingerprintCmd.Flags().IntVar(&fpOpts.Height, "height", 0, "Required height (0 accepts any)")
	fingerprintCmd.Flags().IntVar(&fpOpts.Channels, "channels", 0, "Required channel count (0 accepts any)")
	fingerprintCmd.Flags().BoolVar(&fpOpts.ShowCID, "cid", false, "Print fingerprints as CIDs instead of hex")
	fingerprintCmd.Flags().BoolVar(&fpOpts.History, "history", false, "Look each fingerprint up in the ingestion journal")
	rootCmd.AddCommand(fingerprintCmd)
}

// runFingerprint writes one table row per path. Images that fail to decode
// are reported in the table; the command fails only if none succeeded.
func runFingerprint(ctx context.Context, out io.Writer, paths []string, opts Options) error {
	engine, err := fingerprint.NewEngine(opts.Algorithm)
	if err != nil {
		return err
	}
	mode, err := canon.ParseMode(opts.DecodeMode)
	if err != nil {
		return err
	}
	c := canon.New(canon.StdCodec{}, mode)
	want := canon.Expect{Width: opts.Width, Height: opts.Height, Channels: opts.Channels}

	var j *journal.Journal
	if opts.History {
		url := configuredJournalURL()
		if url == "" {
			return errors.New("--history needs a journal (--db, JOURNAL_URL or POSTGRES_HOST)")
		}
		if j, err = journal.New(ctx, url); err != nil {
			return err
		}
		defer j.Close()
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FILE\tGEOMETRY\tFINGERPRINT\tSEEN")
	fmt.Fprintln(w, "----\t--------\t-----------\t----")

	ok := 0
	for _, path := range paths {
		name := filepath.Base(path)
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t❌ %v\t-\n", name, err)
			continue
		}
		img, err := c.Canonicalize(data, want)
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t❌ %v\t-\n", name, err)
			continue
		}
		ok++

		fp := engine.Fingerprint(img)
		id := fp.Hex()
		if opts.ShowCID {
			id = fp.CID().String()
		}

		seen := "-"
		if j != nil {
			entries, err := j.ByFingerprint(ctx, fp.Hex())
			if err != nil {
				return err
			}
			seen = fmt.Sprintf("%d", len(entries))
			if len(entries) > 0 {
				seen += " (first " + entries[0].ReceivedAt.Local().Format("2006-01-02 15:04") + ")"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, img.Geometry(), id, seen)
	}
	w.Flush()

	if ok == 0 {
		return errors.New("no image could be fingerprinted")
	}
	return nil
}
