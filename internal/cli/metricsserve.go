package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/diffsec/clrsentry/internal/metrics"
	"github.com/spf13/cobra"
)

var metricsAddr string

// Supplemented ambient concern: spec.md carries no metrics surface of its
// own, but the teacher's pack always serves Prometheus metrics over HTTP, so
// clrsentry exposes scan counters/histograms the same way.
var metricsServeCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Serve Prometheus metrics for scans run in this process",
	Long: `Starts an HTTP server exposing clrsentry_* Prometheus metrics (scan
duration, findings by severity, deep-analysis budget exhaustion). Intended
for long-lived embeddings that call the scanner package repeatedly and want
the same process to serve /metrics.

  clrsentry serve-metrics --addr :9090`,
	RunE: metricsServeCommand,
}

func init() {
	metricsServeCmd.Flags().StringVar(&metricsAddr, "addr", ":9090", "Address to listen on")
	rootCmd.AddCommand(metricsServeCmd)
}

func metricsServeCommand(cmd *cobra.Command, args []string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	fmt.Printf("serving metrics on %s/metrics\n", metricsAddr)
	return server.ListenAndServe()
}
