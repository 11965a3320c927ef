// Queue lease POC: proves the Redis work queue pattern Gantry relies on
// gives at-least-once delivery when consumers die mid-message, and that the
// lock heartbeat keeps slow consumers from losing their claim.
//
// Pattern under test: LPUSH onto a queue list, LMOVE onto a processing
// list to claim, a per-message lock key with a short lease heartbeated at a
// third of the lease, and a reaper that requeues processing entries whose
// lock has lapsed. Workers here crash on purpose at a configurable rate and
// some take longer than the lease; the run succeeds when every produced
// message is acknowledged, reporting redeliveries and duplicates.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	addr      = flag.String("addr", "127.0.0.1:6379", "Redis address")
	messages  = flag.Int("messages", 200, "Messages to produce")
	workers   = flag.Int("workers", 4, "Concurrent consumers")
	crashRate = flag.Float64("crash-rate", 0.2, "Fraction of claims abandoned without ack")
	slowRate  = flag.Float64("slow-rate", 0.1, "Fraction of claims that outlive the lease")
	lease     = flag.Duration("lease", 2*time.Second, "Per-message lock lease")
)

const (
	queueKey      = "poc:queue"
	processingKey = "poc:queue:processing"
	lockPrefix    = "poc:queue:lock:"
)

func main() {
	flag.Parse()
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: *addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Redis unreachable at %s: %v", *addr, err)
	}
	rdb.Del(ctx, queueKey, processingKey)

	log.Printf("Producing %d messages, %d workers, %.0f%% crash rate, %.0f%% slow, %s lease",
		*messages, *workers, *crashRate*100, *slowRate*100, *lease)

	for i := 0; i < *messages; i++ {
		if err := rdb.LPush(ctx, queueKey, fmt.Sprintf("msg-%d", i)).Err(); err != nil {
			log.Fatalf("Failed to enqueue: %v", err)
		}
	}

	var (
		mu         sync.Mutex
		acked      = make(map[string]int)
		crashes    int
		slow       int
		duplicates int
	)

	done := make(chan struct{})
	for w := 0; w < *workers; w++ {
		go func() {
			for {
				select {
				case <-done:
					return
				default:
				}

				raw, err := rdb.LMove(ctx, queueKey, processingKey, "RIGHT", "LEFT").Result()
				if errors.Is(err, redis.Nil) {
					time.Sleep(50 * time.Millisecond)
					continue
				}
				if err != nil {
					log.Printf("Claim failed: %v", err)
					continue
				}

				locked, err := rdb.SetNX(ctx, lockPrefix+raw, "poc", *lease).Result()
				if err != nil || !locked {
					// another consumer holds it; leave the entry alone
					continue
				}

				// the heartbeat extends the lock while the work runs
				hbDone := make(chan struct{})
				go func() {
					ticker := time.NewTicker(*lease / 3)
					defer ticker.Stop()
					for {
						select {
						case <-hbDone:
							return
						case <-ticker.C:
							rdb.PExpire(ctx, lockPrefix+raw, *lease)
						}
					}
				}()

				switch r := rand.Float64(); {
				case r < *crashRate:
					// die without acking: the heartbeat stops, the lock
					// lapses, and the reaper requeues the entry
					close(hbDone)
					mu.Lock()
					crashes++
					mu.Unlock()
					continue
				case r < *crashRate+*slowRate:
					// outlive the lease; only the heartbeat keeps the claim
					time.Sleep(*lease + *lease/2)
					mu.Lock()
					slow++
					mu.Unlock()
				default:
					time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
				}
				close(hbDone)

				pipe := rdb.TxPipeline()
				pipe.LRem(ctx, processingKey, 1, raw)
				pipe.Del(ctx, lockPrefix+raw)
				if _, err := pipe.Exec(ctx); err != nil {
					log.Printf("Ack failed: %v", err)
					continue
				}

				mu.Lock()
				acked[raw]++
				if acked[raw] > 1 {
					duplicates++
				}
				mu.Unlock()
			}
		}()
	}

	// reaper: processing entries whose lock is gone go back on the queue
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				entries, err := rdb.LRange(ctx, processingKey, 0, -1).Result()
				if err != nil {
					continue
				}
				for _, raw := range entries {
					held, err := rdb.Exists(ctx, lockPrefix+raw).Result()
					if err != nil || held > 0 {
						continue
					}
					// back to the tail, so it is the next message delivered
					pipe := rdb.TxPipeline()
					pipe.LRem(ctx, processingKey, 1, raw)
					pipe.RPush(ctx, queueKey, raw)
					if _, err := pipe.Exec(ctx); err != nil {
						log.Printf("Reap failed: %v", err)
					}
				}
			}
		}
	}()

	start := time.Now()
	for {
		mu.Lock()
		seen := len(acked)
		mu.Unlock()
		if seen == *messages {
			break
		}
		if time.Since(start) > 2*time.Minute {
			log.Fatalf("Timed out: %d/%d messages acknowledged", seen, *messages)
		}
		time.Sleep(100 * time.Millisecond)
	}
	close(done)

	mu.Lock()
	defer mu.Unlock()
	log.Printf("✓ All %d messages acknowledged in %s", *messages, time.Since(start).Round(time.Millisecond))
	log.Printf("  Crashed claims:        %d (each redelivered after its lease)", crashes)
	log.Printf("  Slow claims:           %d (heartbeat held the lock)", slow)
	log.Printf("  Duplicate deliveries:  %d (at-least-once allows them; heartbeats should keep this at 0)", duplicates)
}
