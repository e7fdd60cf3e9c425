// Command 9router runs the multi-provider LLM routing proxy: it loads
// config.yaml, seeds the default machine document on first boot, and serves
// the HTTP surface described in SPEC_FULL.md §6.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kwanLeeFrmVi/9router/internal/config"
	"github.com/kwanLeeFrmVi/9router/internal/executor"
	"github.com/kwanLeeFrmVi/9router/internal/logging"
	"github.com/kwanLeeFrmVi/9router/internal/pipeline"
	"github.com/kwanLeeFrmVi/9router/internal/router"
	"github.com/kwanLeeFrmVi/9router/internal/store"
	"github.com/kwanLeeFrmVi/9router/sdk/auth"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("main: failed to load configuration")
	}
	logging.Setup(cfg.Debug)

	fileStore, err := store.NewFileStore(cfg.DataDir)
	if err != nil {
		log.WithError(err).Fatal("main: failed to open data directory")
	}
	if err := seedDefaultMachine(cfg, fileStore); err != nil {
		log.WithError(err).Fatal("main: failed to seed default machine")
	}

	httpClient := &http.Client{Timeout: 120 * time.Second}
	pool := auth.NewPool(fileStore)
	exec := executor.New(httpClient)
	pl := pipeline.New(pool, fileStore, exec, httpClient)
	r := router.New(cfg, fileStore, pl)

	watcher, err := config.WatchFile(*configPath, func(updated *config.Config) {
		cfg = updated
		logging.Setup(cfg.Debug)
		r.UpdateConfig(updated)
	})
	if err != nil {
		log.WithError(err).Warn("main: config watcher disabled")
	} else {
		defer watcher.Close()
	}

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      r.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 0, // streaming responses run open-ended
	}

	go func() {
		log.WithField("listen", cfg.Listen).Info("main: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("main: server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("main: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("main: graceful shutdown failed")
	}
}

// seedDefaultMachine creates the default machine's document from the
// config's seed blocks the first time the process runs against an empty
// data directory; an existing document is left untouched.
func seedDefaultMachine(cfg *config.Config, st store.MachineStore) error {
	ctx := context.Background()
	data, err := st.Load(ctx, cfg.DefaultMachineID)
	if err != nil {
		return err
	}
	if len(data.Providers) > 0 || len(data.APIKeys) > 0 {
		return nil
	}
	seeded, err := cfg.SeedMachineData(cfg.DefaultMachineID)
	if err != nil {
		return err
	}
	if len(seeded.Providers) == 0 && len(seeded.APIKeys) == 0 {
		return nil
	}
	return st.Save(ctx, seeded)
}
