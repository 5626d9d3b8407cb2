// Command alignerd serves the alignment engine over HTTP, modeled on the
// teacher's cmd/engine/main.go: config loading, graceful-degradation
// database connect, a websocket hub, and a gin router.
package main

import (
	"log"

	"github.com/rawblock/alignerd/internal/api"
	"github.com/rawblock/alignerd/internal/config"
	"github.com/rawblock/alignerd/internal/store"
)

func main() {
	log.Println("Starting alignerd — unfolding-based conformance checking engine")

	cfg := config.Load()

	var runStore *store.Store
	if cfg.DatabaseURL != "" {
		s, err := store.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Printf("Warning: Failed to connect to database, running without persistence: %v", err)
		} else {
			runStore = s
			defer runStore.Close()

			if err := runStore.InitSchema(); err != nil {
				log.Printf("Warning: Failed to initialize schema: %v", err)
			}
		}
	} else {
		log.Println("DATABASE_URL not set, running without persistence")
	}

	wsHub := api.NewHub()
	go wsHub.Run()

	r := api.SetupRouter(runStore, wsHub, cfg.DefaultImproved, cfg.DefaultWithHeuristic)

	log.Printf("alignerd listening on :%s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
