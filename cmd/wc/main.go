// Command wc runs the Workflow Controller: the business-layer HTTP
// surface of spec.md §4.6/§6.2, composing cross-RM reservations into
// single TM transactions.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JoDio-zd/resvoy/pkg/config"
	"github.com/JoDio-zd/resvoy/pkg/log"
	"github.com/JoDio-zd/resvoy/pkg/metrics"
	"github.com/JoDio-zd/resvoy/pkg/wc"
	"github.com/JoDio-zd/resvoy/pkg/wc/reqid"
	"github.com/JoDio-zd/resvoy/pkg/wc/reservation"
)

var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "wc",
	Short:   "Workflow Controller — business-layer reservation API",
	Version: Version,
}

func init() {
	config.AddLoggingFlags(rootCmd)
	cobra.OnInitialize(config.InitLogging(rootCmd))

	serveCmd.Flags().String("listen", ":8000", "address to listen on")
	serveCmd.Flags().String("tm-addr", "http://localhost:9000", "Transaction Manager base URL")
	serveCmd.Flags().String("flights-addr", "http://localhost:8001", "flights RM base URL")
	serveCmd.Flags().String("hotels-addr", "http://localhost:8002", "hotels RM base URL")
	serveCmd.Flags().String("cars-addr", "http://localhost:8003", "cars RM base URL")
	serveCmd.Flags().String("customers-addr", "http://localhost:8004", "customers RM base URL")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the WC's HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	listen, _ := cmd.Flags().GetString("listen")
	tmAddr, _ := cmd.Flags().GetString("tm-addr")
	flightsAddr, _ := cmd.Flags().GetString("flights-addr")
	hotelsAddr, _ := cmd.Flags().GetString("hotels-addr")
	carsAddr, _ := cmd.Flags().GetString("cars-addr")
	customersAddr, _ := cmd.Flags().GetString("customers-addr")

	tmClient := wc.NewTMClient(tmAddr)
	flights := wc.NewRMClient("flights", flightsAddr)
	hotels := wc.NewRMClient("hotels", hotelsAddr)
	cars := wc.NewRMClient("cars", carsAddr)
	customers := wc.NewRMClient("customers", customersAddr)

	svc := reservation.New(flights, hotels, cars, customers, tmClient)

	metrics.SetVersion(Version)
	metrics.SetCriticalComponents(nil) // the WC owns no durable component of its own
	mux := svc.Mux()
	mux.HandleFunc("GET /health", metrics.HealthHandler())
	mux.HandleFunc("GET /ready", metrics.ReadyHandler())

	srv := &http.Server{
		Addr:         listen,
		Handler:      reqid.Middleware(mux),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithComponent("wc").Info().Str("addr", listen).Msg("listening")
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
		log.WithComponent("wc").Info().Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
