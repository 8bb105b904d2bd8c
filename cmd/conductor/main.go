package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/conductor/internal/profile"
	"github.com/hrygo/conductor/internal/version"
	"github.com/hrygo/conductor/metrics"
	"github.com/hrygo/conductor/orchestrator"
)

var (
	rootCmd = &cobra.Command{
		Use:   "conductor",
		Short: `A multi-agent orchestration service. Routes tasks to capability-profiled workers and runs them under hybrid concurrency strategies.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Only load .env for direct binary execution (not when running as systemd service)
			if !isRunningAsSystemdService() {
				_ = godotenv.Load()
			}
			return nil
		},
		Run: func(_ *cobra.Command, _ []string) {
			instanceProfile := &profile.Profile{}
			instanceProfile.FromEnv()
			// viper resolves flag > env > default for the service fields.
			instanceProfile.Mode = viper.GetString("mode")
			instanceProfile.Addr = viper.GetString("addr")
			instanceProfile.Port = viper.GetInt("port")
			instanceProfile.Version = version.GetCurrentVersion(instanceProfile.Mode)
			if flag := viper.GetInt("max-concurrent"); flag > 0 {
				instanceProfile.MaxConcurrent = flag
			}
			if flag := viper.GetString("default-worker"); flag != "" {
				instanceProfile.DefaultWorker = flag
			}
			if err := instanceProfile.Validate(); err != nil {
				panic(err)
			}

			logger := newLogger(instanceProfile.LogLevel)
			slog.SetDefault(logger)

			exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())
			orch := newOrchestrator(instanceProfile, logger, exporter)
			registerDemoWorkers(orch, logger)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			srv := newHTTPServer(instanceProfile, orch, exporter)

			c := make(chan os.Signal, 1)
			// Trigger graceful shutdown on SIGINT or SIGTERM.
			signal.Notify(c, terminationSignals...)

			go func() {
				if err := srv.ListenAndServe(); err != nil {
					if !errors.Is(err, http.ErrServerClosed) {
						slog.Error("failed to start server", "error", err)
						cancel()
					}
				}
			}()

			printGreetings(instanceProfile)

			go func() {
				<-c
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					slog.Error("failed to shut down server", "error", err)
				}
				cancel()
			}()

			<-ctx.Done()
		},
	}
)

func init() {
	rootCmd.Version = version.String()

	viper.SetDefault("mode", "demo")
	viper.SetDefault("port", 8230)

	rootCmd.PersistentFlags().String("mode", "demo", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8230, "port of server")
	rootCmd.PersistentFlags().Int("max-concurrent", 0, "global permit pool size, 0 derives from host parallelism")
	rootCmd.PersistentFlags().String("default-worker", "", "worker that receives low-confidence tasks")

	for _, flag := range []string{"mode", "addr", "port", "max-concurrent", "default-worker"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("conductor")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}

func newOrchestrator(p *profile.Profile, logger *slog.Logger, exporter *metrics.PrometheusExporter) *orchestrator.Orchestrator {
	cfg := orchestrator.DefaultConfig()
	if p.MaxConcurrent > 0 {
		cfg.MaxConcurrent = int64(p.MaxConcurrent)
	}
	if p.ThreadPoolSize > 0 {
		cfg.ThreadPoolSize = p.ThreadPoolSize
	}
	cfg.SequentialThreshold = p.SequentialThreshold
	cfg.CPUBoundFraction = p.CPUBoundFraction
	cfg.DefaultTimeout = time.Duration(p.DefaultTimeout) * time.Second
	cfg.MinConfidence = p.MinConfidence
	cfg.DefaultWorker = p.DefaultWorker
	cfg.EnableRouteCache = p.EnableRouteCache

	opts := []orchestrator.Option{
		orchestrator.WithConfig(cfg),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(exporter),
	}
	if p.RetryEnabled {
		policy := orchestrator.DefaultRetryPolicy()
		policy.MaxAttempts = p.RetryAttempts
		opts = append(opts, orchestrator.WithRetry(policy))
	}
	return orchestrator.New(opts...)
}

// registerDemoWorkers installs echo workers so the service can be
// exercised without real agent backends. Production deployments replace
// these with LLM-backed workers.
func registerDemoWorkers(orch *orchestrator.Orchestrator, logger *slog.Logger) {
	demos := []struct {
		name string
		tags []string
		desc string
	}{
		{"coder", []string{"code", "write function", "implement", "refactor", "debug"}, "Writes and refactors code"},
		{"tester", []string{"test", "write test", "verify", "validate", "coverage"}, "Writes and runs tests"},
		{"researcher", []string{"research", "search", "find", "summarize", "document"}, "Gathers and summarizes information"},
		{"analyst", []string{"analyze", "calculate", "statistic", "process data", "report"}, "Runs data analysis"},
	}

	for _, demo := range demos {
		name := demo.name
		worker := orchestrator.WorkerFunc(func(ctx context.Context, input string, callback orchestrator.EventCallback) (string, error) {
			select {
			case <-time.After(50 * time.Millisecond):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			return fmt.Sprintf("[%s] handled: %s", name, input), nil
		})
		if err := orch.AddWorker(demo.name, demo.tags, demo.desc, worker); err != nil {
			logger.Error("failed to register demo worker", "worker", demo.name, "error", err)
		}
	}
}

func newHTTPServer(p *profile.Profile, orch *orchestrator.Orchestrator, exporter *metrics.PrometheusExporter) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(orch.GetStatus()); err != nil {
			slog.Error("failed to encode status", "error", err)
		}
	})

	addr := fmt.Sprintf("%s:%d", p.Addr, p.Port)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("Conductor %s started successfully!\n", p.Version)

	if p.IsDev() {
		fmt.Fprintf(os.Stderr, "Development mode is enabled (%s)\n", version.StringFull())
	}

	fmt.Printf("Mode: %s\n", p.Mode)
	if len(p.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", p.Port)
		fmt.Printf("Metrics at: http://localhost:%d/metrics\n", p.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", p.Addr, p.Port)
		fmt.Printf("Metrics at: http://%s:%d/metrics\n", p.Addr, p.Port)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
