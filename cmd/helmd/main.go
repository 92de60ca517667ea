// Command helmd is the background daemon the Helm menu-bar app launches and
// talks to over localhost HTTP + WebSocket.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/jasoncavinder/helm/internal/adapter/managers"
	"github.com/jasoncavinder/helm/internal/adapterrt"
	"github.com/jasoncavinder/helm/internal/api/middleware"
	"github.com/jasoncavinder/helm/internal/api/rest"
	"github.com/jasoncavinder/helm/internal/api/websocket"
	"github.com/jasoncavinder/helm/internal/config"
	"github.com/jasoncavinder/helm/internal/coordinator"
	"github.com/jasoncavinder/helm/internal/core"
	"github.com/jasoncavinder/helm/internal/models"
	"github.com/jasoncavinder/helm/internal/pkg/logger"
	"github.com/jasoncavinder/helm/internal/procrunner"
	"github.com/jasoncavinder/helm/internal/repository"
)

// startPort is the first port helmd tries to bind; a menu-bar app has no
// user to hand a port to, so it probes a small range the way the frontend
// probes back (loopback-only, no fixed
// port).
const startPort = 7337

const maxPortProbe = 25

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "helmd: failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.StdLogger(cfg.Verbose())
	log.Info("helmd starting", "data_dir", cfg.DataDir, "log_level", cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := repository.Open(cfg.DBPath())
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if repaired, err := store.ReconcileInterruptedTasks(ctx); err != nil {
		log.Warn("interrupted-task reconciliation failed", "error", err)
	} else if repaired > 0 {
		log.Info("marked interrupted tasks failed", "count", repaired)
	}

	runner := procrunner.New()
	runner.SetOutputSink(func(taskID uint64, out models.TaskOutput) {
		if err := store.SaveTaskOutput(context.Background(), out); err != nil {
			log.Warn("task output persist failed", "task_id", taskID, "error", err)
		}
	})
	adapters := managers.All(runner)
	rt := adapterrt.New(adapters)
	coord := coordinator.New(store, log, 4)
	rtCore := core.New(store, coord, rt, log)

	wsHub := websocket.NewHub(ctx)
	go wsHub.Run()
	defer wsHub.Stop()
	rtCore.SetTaskObserver(func(task models.TaskRecord) {
		if err := wsHub.BroadcastTaskUpdate(task); err != nil {
			log.Debug("task update broadcast dropped", "task_id", task.ID, "error", err)
		}
	})
	rtCore.SetStatusObserver(func(status models.ManagerStatus) {
		if err := wsHub.BroadcastManagerStatusUpdate(status); err != nil {
			log.Debug("status update broadcast dropped", "manager_id", status.ManagerID, "error", err)
		}
	})

	log.Info("running initial detection sweep")
	rtCore.TriggerRefresh(ctx)

	router := mux.NewRouter()
	handler := rest.NewHandler(rtCore)
	api := router.PathPrefix("/api/v1").Subrouter()
	rest.SetupRoutes(api, handler)

	wsHandler := websocket.NewHandler(ctx, wsHub, log)
	router.HandleFunc("/ws/events", wsHandler.ServeWS).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.Use(middleware.SecureHeaders)
	router.Use(middleware.RequestID)
	router.Use(middleware.StructuredLog)
	router.Use(middleware.MaxBodySize(middleware.DefaultMaxBodyBytes))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost", "app://helm"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})

	listener, port, err := bindLoopback(startPort, maxPortProbe)
	if err != nil {
		log.Error("no loopback port available", "error", err)
		os.Exit(1)
	}
	defer listener.Close()

	srv := &http.Server{
		Handler:      corsHandler.Handler(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("helmd listening", "port", port)
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("forced shutdown", "error", err)
	}
}

// bindLoopback tries ports [start, start+n) on 127.0.0.1 and returns the
// first that binds.
func bindLoopback(start, n int) (net.Listener, int, error) {
	var lastErr error
	for port := start; port < start+n; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			lastErr = err
			continue
		}
		return l, port, nil
	}
	return nil, 0, lastErr
}
