// permit-cache is an operator tool for the shared attribute cache: probe the
// backing store, inspect a cached record, and evict entries locally or across
// every subscribed process.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/logger"
	"github.com/oarkflow/permit/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "health":
		handleHealth()
	case "get":
		handleGet()
	case "invalidate":
		handleInvalidate()
	case "publish":
		handlePublish()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("permit-cache - attribute cache operations")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  permit-cache health                          - Probe the backing store")
	fmt.Println("  permit-cache get <subjectID> <scope>         - Print a cached record")
	fmt.Println("  permit-cache invalidate <subjectID> [scope]  - Evict locally and broadcast")
	fmt.Println("  permit-cache publish <subjectID> [scope]     - Broadcast eviction only")
	fmt.Println()
	fmt.Println("Config: set PERMIT_CONFIG to a .yaml/.json file; defaults otherwise.")
}

func loadConfig() *permit.Config {
	path := os.Getenv("PERMIT_CONFIG")
	if path == "" {
		return permit.DefaultConfig()
	}
	cfg, err := permit.NewConfigLoader().LoadFile(path)
	if err != nil {
		fmt.Printf("Error loading config %s: %v\n", path, err)
		os.Exit(1)
	}
	return cfg
}

func openStore() (permit.AttributeStore, context.Context, context.CancelFunc) {
	cfg := loadConfig()
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store, err := stores.NewRedisAttributeStore(client, nil,
		stores.WithTTL(cfg.TTL()),
		stores.WithRefreshTimeout(cfg.RefreshTimeout()),
		stores.WithStoreLogger(logger.NewPhusluLogger()))
	if err != nil {
		fmt.Printf("Error connecting to %s: %v\n", cfg.Redis.Addr, err)
		os.Exit(1)
	}
	wrapped, err := stores.WrapLocalCache(store, cfg.LocalCache)
	if err != nil {
		fmt.Printf("Error building local cache: %v\n", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	return wrapped, ctx, cancel
}

func subjectArgs(minArgs int) (int64, string) {
	if len(os.Args) < minArgs {
		printUsage()
		os.Exit(1)
	}
	subjectID, err := strconv.ParseInt(os.Args[2], 10, 64)
	if err != nil {
		fmt.Printf("Invalid subject id: %s\n", os.Args[2])
		os.Exit(1)
	}
	scope := ""
	if len(os.Args) > 3 {
		scope = os.Args[3]
	}
	return subjectID, scope
}

func handleHealth() {
	store, ctx, cancel := openStore()
	defer cancel()
	if !store.HealthCheck(ctx) {
		fmt.Println("UNHEALTHY")
		os.Exit(1)
	}
	fmt.Println("OK")
}

func handleGet() {
	subjectID, scope := subjectArgs(4)
	store, ctx, cancel := openStore()
	defer cancel()
	rec, found := store.Get(ctx, subjectID, scope)
	if !found {
		fmt.Printf("No record for subject %d scope %q\n", subjectID, scope)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(rec, "", "  ")
	fmt.Println(string(out))
}

func handleInvalidate() {
	subjectID, scope := subjectArgs(3)
	store, ctx, cancel := openStore()
	defer cancel()
	removed := store.Invalidate(ctx, subjectID, scope)
	if err := store.PublishInvalidation(ctx, subjectID, scope); err != nil {
		fmt.Printf("Evicted %d entries, broadcast failed: %v\n", removed, err)
		os.Exit(1)
	}
	fmt.Printf("Evicted %d entries, invalidation broadcast\n", removed)
}

func handlePublish() {
	subjectID, scope := subjectArgs(3)
	store, ctx, cancel := openStore()
	defer cancel()
	if err := store.PublishInvalidation(ctx, subjectID, scope); err != nil {
		fmt.Printf("Broadcast failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Invalidation broadcast")
}
