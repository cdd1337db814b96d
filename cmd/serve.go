package cmd

import (
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/theapemachine/indexpilot/db"
	"github.com/theapemachine/indexpilot/health"
	"github.com/theapemachine/indexpilot/logger"
)

var (
	cycleSchedule  string
	healthSchedule string
)

/*
serveCmd runs the engine as a long-lived process: evaluation cycles and
health passes on cron schedules, plus an HTTP status surface for
dashboards.
*/
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled evaluation cycles with a status endpoint",
	Long: `Run the engine continuously. Evaluation cycles and index health passes
fire on independent cron schedules, and a small HTTP endpoint exposes
rate-limiter saturation, in-flight mutation count, and pending approvals.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := buildEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		// The health recorder needs its own handles: it runs on an
		// independent schedule and must not contend with cycle wiring.
		healthConn, err := db.NewConn(cmd.Context(), cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer healthConn.Close()

		healthStore, err := newAuditStore()
		if err != nil {
			return err
		}
		defer healthStore.Close()

		recorder := health.NewRecorder(
			health.WithConn(healthConn),
			health.WithStore(healthStore),
		)

		scheduler := cron.New()

		if _, err := scheduler.AddFunc(cycleSchedule, func() {
			if _, err := eng.RunCycle(cmd.Context()); err != nil {
				logger.Error("Evaluation cycle failed", "error", err)
			}
		}); err != nil {
			return err
		}

		if _, err := scheduler.AddFunc(healthSchedule, func() {
			if err := recorder.Run(cmd.Context()); err != nil {
				logger.Error("Health pass failed", "error", err)
			}
		}); err != nil {
			return err
		}

		scheduler.Start()
		defer scheduler.Stop()

		router := chi.NewRouter()
		router.Use(middleware.Recoverer)
		router.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			status, err := eng.Status(r.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(status)
		})
		router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		server := &http.Server{Addr: cfg.StatusAddr, Handler: router}
		go func() {
			logger.Info("Status endpoint listening", "addr", cfg.StatusAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Status server failed", "error", err)
			}
		}()

		logger.Info("Engine serving",
			"cycle_schedule", cycleSchedule,
			"health_schedule", healthSchedule)

		// Block until interrupted.
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		logger.Info("Shutting down")
		return server.Close()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&cycleSchedule, "cycle-schedule", "@every 15m", "Cron schedule for evaluation cycles")
	serveCmd.Flags().StringVar(&healthSchedule, "health-schedule", "@every 5m", "Cron schedule for index health passes")
}
