package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goSession/refresh"
)

func main() {
	var (
		tokens      = flag.Int("tokens", 20000, "number of refresh tokens to seed")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		racers      = flag.Int("racers", 4, "concurrent rotations per token in the race phase")
		ops         = flag.Int("ops", 100000, "verify operations")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "{lt}", "refresh key prefix")
	)
	flag.Parse()

	if *tokens <= 0 || *concurrency <= 0 || *ops <= 0 || *racers <= 0 {
		fmt.Fprintln(os.Stderr, "tokens, concurrency, racers, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	manager, err := refresh.NewManager(refresh.NewRedisStore(client, *prefix), refresh.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "refresh manager: %v\n", err)
		os.Exit(1)
	}

	seeded := make([]string, *tokens)
	fmt.Printf("seeding %d refresh tokens...\n", *tokens)
	startSeed := time.Now()
	for i := range seeded {
		rec, err := manager.Create(ctx, fmt.Sprintf("p-%d", i), "loadtest")
		if err != nil {
			fmt.Fprintf(os.Stderr, "create failed: %v\n", err)
			os.Exit(1)
		}
		seeded[i] = rec.Token
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	verifyStats := runVerifyPhase(ctx, manager, seeded, *ops, *concurrency)
	race := runRacePhase(ctx, manager, seeded, *racers, *concurrency)

	fmt.Println("---- results ----")
	printStats("verify", verifyStats)
	printStats("rotate", race.stats)
	fmt.Printf("race: tokens=%d winners=%d revoked_losers=%d double_wins=%d no_winner=%d\n",
		len(seeded), race.winners, race.revoked, race.doubleWins, race.noWinner)

	if race.doubleWins > 0 || race.noWinner > 0 {
		fmt.Fprintln(os.Stderr, "rotation invariant violated")
		os.Exit(1)
	}
}

func runVerifyPhase(ctx context.Context, m *refresh.Manager, tokens []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				_, err := m.Verify(ctx, tokens[r.Intn(len(tokens))])
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type raceResult struct {
	stats      phaseStats
	winners    int64
	revoked    int64
	doubleWins int64
	noWinner   int64
}

// runRacePhase rotates every seeded token from several goroutines at once. Exactly one
// rotation per token may succeed; the rest must report refresh.ErrRevoked.
func runRacePhase(ctx context.Context, m *refresh.Manager, tokens []string, racers, concurrency int) raceResult {
	var (
		wg        sync.WaitGroup
		cursor    int64
		res       raceResult
		failures  int64
		latencies = make([]time.Duration, 0, len(tokens)*racers)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(tokens) {
					return
				}

				var (
					inner sync.WaitGroup
					wins  int64
					gate  = make(chan struct{})
				)
				for k := 0; k < racers; k++ {
					inner.Add(1)
					go func() {
						defer inner.Done()
						<-gate
						t0 := time.Now()
						_, err := m.Rotate(ctx, tokens[i], "loadtest")
						d := time.Since(t0)
						switch {
						case err == nil:
							atomic.AddInt64(&wins, 1)
						case errors.Is(err, refresh.ErrRevoked):
							atomic.AddInt64(&res.revoked, 1)
						default:
							atomic.AddInt64(&failures, 1)
						}
						mu.Lock()
						latencies = append(latencies, d)
						mu.Unlock()
					}()
				}
				close(gate)
				inner.Wait()

				switch wins {
				case 1:
					atomic.AddInt64(&res.winners, 1)
				case 0:
					atomic.AddInt64(&res.noWinner, 1)
				default:
					atomic.AddInt64(&res.doubleWins, 1)
				}
			}
		}()
	}
	wg.Wait()

	res.stats = computeStats(time.Since(start), latencies, failures)
	return res
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
