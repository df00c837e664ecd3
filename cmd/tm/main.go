// Command tm runs the Transaction Manager: the 2PC coordinator of
// spec.md §4.5, serving the HTTP contract of spec.md §6.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JoDio-zd/resvoy/pkg/config"
	"github.com/JoDio-zd/resvoy/pkg/log"
	"github.com/JoDio-zd/resvoy/pkg/metrics"
	"github.com/JoDio-zd/resvoy/pkg/tm"
	"github.com/JoDio-zd/resvoy/pkg/tm/decisionlog"
	"github.com/JoDio-zd/resvoy/pkg/tm/rmclient"
	"github.com/JoDio-zd/resvoy/pkg/tmservice"
)

var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "tm",
	Short:   "Transaction Manager — two-phase commit coordinator",
	Version: Version,
}

func init() {
	config.AddLoggingFlags(rootCmd)
	cobra.OnInitialize(config.InitLogging(rootCmd))

	serveCmd.Flags().String("listen", ":9000", "address to listen on")
	serveCmd.Flags().String("data-dir", "./data/tm", "directory for the decision log")
	serveCmd.Flags().String("storage", "bolt", "decision log backend: json or bolt")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the TM's HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	listen, _ := cmd.Flags().GetString("listen")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	storage, _ := cmd.Flags().GetString("storage")

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	var decLog tm.DecisionLog
	switch storage {
	case "json":
		l, err := decisionlog.OpenJSON(filepath.Join(dataDir, "decisions.json"))
		if err != nil {
			return fmt.Errorf("open json decision log: %w", err)
		}
		decLog = l
	case "bolt":
		l, err := decisionlog.OpenBolt(filepath.Join(dataDir, "decisions.bolt"))
		if err != nil {
			return fmt.Errorf("open bolt decision log: %w", err)
		}
		defer l.Close()
		decLog = l
	default:
		return fmt.Errorf("unknown --storage %q, want json or bolt", storage)
	}

	coordinator := tm.NewCoordinator(decLog, rmclient.New())

	log.WithComponent("tm").Info().Str("data_dir", dataDir).Msg("resuming in-flight decisions")
	if err := coordinator.Recover(); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	svc := tmservice.New(coordinator)

	metrics.SetVersion(Version)
	metrics.SetCriticalComponents([]string{"decision_log"})
	metrics.RegisterComponent("decision_log", true, "")

	srv := &http.Server{
		Addr:         listen,
		Handler:      svc.Mux(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithComponent("tm").Info().Str("addr", listen).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.WithComponent("tm").Info().Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
