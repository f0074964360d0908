package main

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/rawblock/denaro-node/internal/api"
	"github.com/rawblock/denaro-node/internal/config"
	"github.com/rawblock/denaro-node/internal/mempool"
	"github.com/rawblock/denaro-node/internal/peer"
	"github.com/rawblock/denaro-node/internal/pipeline"
	"github.com/rawblock/denaro-node/internal/store"
)

// nodeSyncInterval is how often the background syncer checks peers for a
// longer chain (spec.md §4.7).
const nodeSyncInterval = 2 * time.Minute

// peerPruneInterval is how often stale node-registry entries are dropped.
const peerPruneInterval = 1 * time.Hour

func main() {
	log.Println("Starting denaro node...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	ctx := context.Background()
	pgStore, err := store.NewPostgresStore(ctx, cfg.DSN())
	if err != nil {
		log.Fatalf("FATAL: connect to database: %v", err)
	}
	defer pgStore.Close()
	if err := pgStore.InitSchema(ctx); err != nil {
		log.Fatalf("FATAL: init schema: %v", err)
	}

	var s store.Store = pgStore

	p := pipeline.New(s)
	mp := mempool.New(s)

	var bootstrap []string
	for _, u := range strings.Split(cfg.BootstrapNodes, ",") {
		u = strings.TrimSpace(u)
		if u != "" {
			bootstrap = append(bootstrap, u)
		}
	}
	reg := peer.NewRegistry(bootstrap...)
	client := peer.NewClient(cfg.SelfURL)
	g := peer.NewGossiper(reg, client, cfg.GossipRate, cfg.GossipBurst)
	syncer := peer.NewSyncer(reg, client, p, s, mp)

	wsHub := api.NewHub()
	go wsHub.Run()

	go func() {
		ticker := time.NewTicker(nodeSyncInterval)
		defer ticker.Stop()
		for range ticker.C {
			if err := syncer.Sync(context.Background(), ""); err != nil && err != peer.ErrSyncInProgress {
				log.Printf("sync: %v", err)
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(peerPruneInterval)
		defer ticker.Stop()
		for range ticker.C {
			reg.Prune(time.Now())
		}
	}()

	r := api.SetupRouter(s, p, mp, reg, g, syncer, wsHub)

	log.Printf("Node listening on :%s\n", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("FATAL: server: %v", err)
	}
}
