package main

import (
	"errors"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// errInvalid signals a failed attestation check, which exits with 1 instead of 2.
var errInvalid = errors.New("attestation validation failed")

var logLevel string

var rootCmd = &cobra.Command{
	Use:           "slotauction",
	Short:         "Combinatorial slot auction server and tools",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logrus.SetLevel(level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd, exportCmd, verifyCmd)
}

func main() {
	err := rootCmd.Execute()
	switch {
	case err == nil:
	case errors.Is(err, errInvalid):
		os.Exit(1)
	default:
		logrus.Error(err)
		os.Exit(2)
	}
}
