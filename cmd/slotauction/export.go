package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudx-io/slotauction/export"
	"github.com/cloudx-io/slotauction/storage/sqlite"
)

var (
	exportDB      string
	exportSession string
	exportOut     string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the bids of a session as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportSession == "" {
			return fmt.Errorf("--session is required")
		}

		store, err := sqlite.Open(exportDB)
		if err != nil {
			return err
		}
		defer store.Close()

		var out io.Writer = cmd.OutOrStdout()
		if exportOut != "" && exportOut != "-" {
			f, err := os.Create(exportOut)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			defer f.Close()
			out = f
		}

		return export.Write(cmd.Context(), out, store, exportSession)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportDB, "db", "slotauction.db", "SQLite database written by serve")
	exportCmd.Flags().StringVar(&exportSession, "session", "", "Session code")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "-", "Output file, - for stdout")
}
