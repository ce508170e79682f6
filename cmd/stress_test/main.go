package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/RicardoFernandes2004/LumePatch/internal/adapter/storage"
	"github.com/RicardoFernandes2004/LumePatch/internal/core/service"
)

const (
	redisAddr     = "localhost:6379"
	sku           = "stress_item"
	initialStock  = 20
	totalRequests = 50
	instances     = 2
)

// Two ledger instances share one Redis store and writer lock, as two server
// processes would, and race to consume the same SKU.
func main() {
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	run := uuid.NewString()
	prefix := "ledger-stress:" + run + ":"
	lockKey := prefix + "writer"
	defer func() {
		keys, _ := rdb.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
	}()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)

	ledgers := make([]*service.LedgerService, instances)
	for i := range ledgers {
		ledgers[i] = service.NewLedgerService(
			storage.NewLedgerRepository(storage.NewRedisStore(rdb, prefix)),
			storage.NewRedisLock(rdb, lockKey, 10*time.Second),
			service.LedgerConfig{Catalog: []string{}, SharedStore: true},
			logger,
		)
		if err := ledgers[i].Load(ctx); err != nil {
			log.Fatalf("failed to load ledger %d: %v", i, err)
		}
	}

	if _, err := ledgers[0].Restock(ctx, service.RestockCommand{SKU: sku, Quantity: initialStock, Actor: "stress"}); err != nil {
		log.Fatalf("failed to restock: %v", err)
	}

	// Counters
	var successCount atomic.Int32
	var failCount atomic.Int32

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			_, err := ledgers[n%instances].Consume(ctx, service.ConsumeCommand{
				SKU:      sku,
				Quantity: 1,
				Actor:    fmt.Sprintf("user-%d", n),
			})
			if err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	fail := failCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Instances:        %d\n", instances)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == int32(initialStock) && fail == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d consumptions succeeded, %d failed\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, fail)
	}

	// Verify the stored state through a fresh instance
	verifier := service.NewLedgerService(
		storage.NewLedgerRepository(storage.NewRedisStore(rdb, prefix)),
		storage.NewLocalLock(),
		service.LedgerConfig{Catalog: []string{}},
		logger,
	)
	finalStock, err := verifier.TotalQuantity(ctx, sku)
	if err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}
	history, err := verifier.History(ctx)
	if err != nil {
		log.Fatalf("failed to read history: %v", err)
	}
	fmt.Printf("Final Stock:       %d\n", finalStock)
	fmt.Printf("Recorded Consumes: %d\n", len(history))

	if finalStock == 0 && len(history) == initialStock {
		fmt.Println("PASS: Stock depleted to 0 and every consumption recorded")
	} else {
		fmt.Printf("FAIL: Expected stock 0 with %d records, got %d with %d\n", initialStock, finalStock, len(history))
	}
}
