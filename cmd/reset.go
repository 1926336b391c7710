package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/pixelvault/internal/utils"
)

var (
	resetJournal bool
	resetFiles   bool
	resetYes     bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete stored images and drop the ingestion journal",
	Long:  "Without flags both the storage folder and the journal are cleared. --files or --journal limits the reset to one of them.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if !resetJournal && !resetFiles {
			resetJournal, resetFiles = true, true
		}
		in := bufio.NewReader(os.Stdin)
		ask := func(prompt string) bool { return resetYes || confirm(in, os.Stdout, prompt) }

		if resetFiles {
			cfg, err := loadConfig().Server()
			if err != nil {
				utils.Die("Invalid server configuration", err)
			}
			if ask(fmt.Sprintf("⚠️  Delete every stored image in %s?", cfg.StorageFolder)) {
				n, err := clearStorage(cfg.StorageFolder)
				if err != nil {
					utils.Die("Failed to clear storage folder", err)
				}
				fmt.Printf("🗑️  Removed %d stored images\n", n)
			}
		}

		if resetJournal && ask("⚠️  DROP the ingestion journal table?") {
			j := openJournal(cmd.Context())
			err := j.Reset(cmd.Context())
			j.Close()
			if err != nil {
				utils.Die("Failed to reset journal", err)
			}
			fmt.Println("🗑️  Journal dropped")
		}

		fmt.Println("✨ Reset complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetJournal, "journal", false, "Drop the PostgreSQL ingestion journal")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Delete stored images")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

// confirm writes prompt to out and reports whether the answer read from in
// is yes. End of input counts as no.
func confirm(in *bufio.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	answer, err := in.ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// clearStorage removes the regular files in dir and keeps the folder, so a
// running server can go on writing into it. A missing folder is empty.
func clearStorage(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "list %s", dir)
	}

	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return removed, errors.Wrapf(err, "remove %s", e.Name())
		}
		removed++
	}
	return removed, nil
}
