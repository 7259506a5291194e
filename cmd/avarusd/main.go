// Command avarusd runs the avarus robot fleet control plane: it serves
// the robot poll protocol and operator HTTP surface described in
// spec.md section 6, persisting world and fleet state to a save
// directory between runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Speedy6451/avarus/server"
	"github.com/Speedy6451/avarus/server/httpapi"
)

// schedulerTick is how often the background scheduler loop reassigns
// Ready tasks, independent of the opportunistic poll triggered by
// GET /turtle/pollScheduler.
const schedulerTick = 2 * time.Second

func main() {
	cfg := server.DefaultConfig()
	flag.IntVar(&cfg.Port, "port", server.DefaultPort, "HTTP listen port")
	flag.StringVar(&cfg.Save, "save", server.DefaultSave, "save directory")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// Positional arguments (port, then save directory) override the flags.
	if flag.NArg() > 0 {
		port, err := strconv.Atoi(flag.Arg(0))
		if err != nil {
			log.Error("invalid port argument", "arg", flag.Arg(0), "error", err)
			os.Exit(1)
		}
		cfg.Port = port
	}
	if flag.NArg() > 1 {
		cfg.Save = flag.Arg(1)
	}

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Error("failed to start", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go srv.Run(ctx, schedulerTick)

	app := httpapi.NewApp(srv, fmt.Sprintf("%d", cfg.Port), log)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: app.Router(),
	}

	go func() {
		log.Info("listening", "port", cfg.Port, "save", cfg.Save)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown error", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("scheduler drain error", "error", err)
	}
	if err := srv.Close(); err != nil {
		log.Error("close chunk store error", "error", err)
	}
}
