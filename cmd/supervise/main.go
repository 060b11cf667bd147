//go:build linux

// Command supervise keeps the apps of an ecosystem file running.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LovationAdmin/fleet-api/supervisor"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	grace       time.Duration
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:           "supervise",
	Short:         "Process supervisor for the fleet API",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start every app in the ecosystem file and keep it running",
	Long: `Starts each app, restarts it when it exits or grows past
max_memory_restart, and gives up on an app after max_restarts
consecutive exits shorter than min_uptime.

SIGINT or SIGTERM stops every app and exits.`,
	RunE: runApps,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check an ecosystem file without starting anything",
	RunE:  validateApps,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "ecosystem.yml", "path to the ecosystem file")
	runCmd.Flags().DurationVar(&grace, "grace", 5*time.Second, "time between SIGTERM and SIGKILL when stopping")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9101)")
	rootCmd.AddCommand(runCmd, validateCmd)
}

func runApps(cmd *cobra.Command, args []string) error {
	d, err := supervisor.LoadDescriptor(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		addr, err := serveMetrics(ctx, metricsAddr)
		if err != nil {
			return err
		}
		log.Printf("📊 Metrics on http://%s/metrics", addr)
	}

	log.Printf("🚀 Supervising %d app(s) from %s", len(d.Apps), configPath)
	return supervisor.RunAll(ctx, d, func(r *supervisor.Runner) {
		r.Grace = grace
	})
}

// serveMetrics exposes the restart counters until ctx is done.
func serveMetrics(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("❌ Metrics server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return ln.Addr(), nil
}

func validateApps(cmd *cobra.Command, args []string) error {
	d, err := supervisor.LoadDescriptor(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, app := range d.Apps {
		fmt.Fprintf(out, "✅ %s: %s", app.Name, app.Script)
		if app.MaxMemoryRestart > 0 {
			fmt.Fprintf(out, " (memory limit %s)", app.MaxMemoryRestart)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
