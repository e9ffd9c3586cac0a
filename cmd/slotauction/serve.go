package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cloudx-io/slotauction/attest"
	"github.com/cloudx-io/slotauction/auctionserver"
	"github.com/cloudx-io/slotauction/session"
	"github.com/cloudx-io/slotauction/storage/sqlite"
)

var (
	configPath string
	dbPath     string
	listenAddr string
	noAttest   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a session and serve bidders until every round is played",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "session.yaml", "Session config (YAML)")
	serveCmd.Flags().StringVar(&dbPath, "db", "slotauction.db", "SQLite database for bids and results")
	serveCmd.Flags().StringVar(&listenAddr, "listen", "vsock://5000", "Listen address, host:port or vsock://port")
	serveCmd.Flags().BoolVar(&noAttest, "no-attest", false, "Do not attest results even when the NSM is available")
}

func serve(ctx context.Context) error {
	cfg, err := session.LoadConfig(configPath)
	if err != nil {
		return err
	}

	sess, err := session.New(*cfg, nil)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	store, err := sqlite.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	var attester attest.EnclaveAttester
	if !noAttest {
		attester, err = attest.GetEnclaveAttester()
		if err != nil {
			logrus.WithError(err).Warn("Running without result attestation")
		}
	}

	serverCfg, err := auctionserver.DefaultConfig()
	if err != nil {
		return err
	}
	server, err := auctionserver.NewServer(serverCfg, sess, store, attester)
	if err != nil {
		return err
	}

	listener, err := auctionserver.Listen(listenAddr)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"session":      sess.Code,
		"participants": len(sess.Participants),
		"rounds":       cfg.NumRounds,
		"reward_round": sess.RewardRound,
		"addr":         listener.Addr().String(),
	}).Info("Session ready")

	return server.Serve(ctx, listener)
}
