// Command rm runs one Resource Manager shard (flights, hotels, cars, or
// customers), serving the HTTP contract of spec.md §6. One process owns
// exactly one shard; the teacher's one-binary-many-subcommands shape
// (cmd/warren) is kept, but "serve" is this binary's only real subcommand
// since an RM's entire job is to listen.
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
	"github.com/JoDio-zd/resvoy/pkg/rm"
	"github.com/JoDio-zd/resvoy/pkg/rm/boltpageio"
	"github.com/JoDio-zd/resvoy/pkg/rm/mempageio"
	"github.com/JoDio-zd/resvoy/pkg/rm/txlog"
	"github.com/JoDio-zd/resvoy/pkg/rmservice"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "rm",
	Short:   "Resource Manager — page/record store with two-phase commit participation",
	Version: Version,
}

func init() {
	config.AddLoggingFlags(rootCmd)
	cobra.OnInitialize(config.InitLogging(rootCmd))

	serveCmd.Flags().String("listen", ":8001", "address to listen on")
	serveCmd.Flags().String("self-addr", "http://localhost:8001", "this RM's externally reachable address, sent to the TM on enlist")
	serveCmd.Flags().String("tm-addr", "http://localhost:9000", "Transaction Manager base URL")
	serveCmd.Flags().String("name", "flights", "shard name, used as the metrics/logging label (e.g. flights, hotels, cars, customers)")
	serveCmd.Flags().String("key-column", "flightNum", "primary key field name in this shard's records")
	serveCmd.Flags().Int("key-width", 8, "fixed width each normalized key component is zero-padded to")
	serveCmd.Flags().String("data-dir", "./data/rm", "directory for the PREPARED log and (if --storage=bolt) the page store")
	serveCmd.Flags().String("storage", "mem", "page storage backend: mem or bolt")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start this RM shard's HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	listen, _ := cmd.Flags().GetString("listen")
	selfAddr, _ := cmd.Flags().GetString("self-addr")
	tmAddr, _ := cmd.Flags().GetString("tm-addr")
	name, _ := cmd.Flags().GetString("name")
	keyColumn, _ := cmd.Flags().GetString("key-column")
	keyWidth, _ := cmd.Flags().GetInt("key-width")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	storage, _ := cmd.Flags().GetString("storage")

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	index := rm.NewOrderedStringPageIndex(keyWidth, 2)

	var pageIO rm.PageIO
	switch storage {
	case "mem":
		pageIO = mempageio.New()
	case "bolt":
		store, err := boltpageio.Open(filepath.Join(dataDir, "pages.bolt"), index)
		if err != nil {
			return fmt.Errorf("open bolt page store: %w", err)
		}
		defer store.Close()
		pageIO = store
	default:
		return fmt.Errorf("unknown --storage %q, want mem or bolt", storage)
	}

	preparedLog, err := txlog.Open(filepath.Join(dataDir, "prepared.json"))
	if err != nil {
		return fmt.Errorf("open prepared log: %w", err)
	}

	engine := rm.NewEngine(rm.Config{
		Index:  index,
		IO:     pageIO,
		Log:    preparedLog,
		Logger: log.WithComponent("rm-" + name),
	})

	log.WithComponent("rm-" + name).Info().Str("data_dir", dataDir).Msg("recovering prepared transactions")
	if err := engine.Recover(); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	table := rm.NewTable(engine, keyColumn, rm.NewKeyCodec(keyWidth))
	svc := rmservice.New(name, table, selfAddr, tmAddr)

	metrics.SetVersion(Version)
	metrics.SetCriticalComponents([]string{"prepared_log"})
	metrics.RegisterComponent("prepared_log", true, "")

	srv := &http.Server{
		Addr:         listen,
		Handler:      svc.Mux(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithComponent("rm-"+name).Info().Str("addr", listen).Msg("listening")
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
		log.WithComponent("rm-" + name).Info().Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
