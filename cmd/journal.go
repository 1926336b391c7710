package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/pixelvault/internal/journal"
	"github.com/andresmejia3/pixelvault/internal/utils"
)

var journalOpts Options

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "List recent ingestion outcomes recorded by the server",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runJournal(cmd.Context(), journalOpts)
	},
}

func init() {
	journalCmd.Flags().IntVarP(&journalOpts.Limit, "limit", "n", 20, "Number of entries to show")
	rootCmd.AddCommand(journalCmd)
}

func openJournal(ctx context.Context) *journal.Journal {
	url := configuredJournalURL()
	if url == "" {
		url = "postgres://localhost:5432/pixelvault"
	}
	j, err := journal.New(ctx, url)
	if err != nil {
		utils.Die("Failed to connect to journal", err)
	}
	return j
}

func runJournal(ctx context.Context, opts Options) {
	j := openJournal(ctx)
	defer j.Close()

	counts, err := j.Counts(ctx)
	if err != nil {
		utils.Die("Failed to count journal entries", err)
	}
	entries, err := j.Recent(ctx, opts.Limit)
	if err != nil {
		utils.Die("Failed to list journal entries", err)
	}

	if len(entries) == 0 {
		fmt.Println("No ingestion outcomes recorded.")
		return
	}

	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	fmt.Print("Totals:")
	for _, s := range statuses {
		fmt.Printf(" %s=%d", s, counts[s])
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "\nID\tRECEIVED\tCONN\tSTATUS\tBYTES\tFINGERPRINT\tDETAIL")
	fmt.Fprintln(w, "--\t--------\t----\t------\t-----\t-----------\t------")

	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.ReceivedAt.Local().Format("2006-01-02 15:04:05"), short(e.ConnID, 8),
			e.Status, e.Bytes, short(e.Fingerprint, 12), detail(e))
	}
	w.Flush()
}

func short(s string, n int) string {
	if s == "" {
		return "-"
	}
	if len(s) > n {
		return s[:n]
	}
	return s
}

func detail(e journal.Entry) string {
	switch {
	case e.Error != "":
		return e.Stage + ": " + e.Error
	case e.Path != "":
		return filepath.Base(e.Path)
	default:
		return fmt.Sprintf("handle %d", e.Handle)
	}
}
