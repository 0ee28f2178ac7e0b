// Command weather-bench drives a weather client with a simulated API and
// reports throughput, hit ratio and evictions for a skewed city workload.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mirkobrombin/warp-weather/v1/client"
	"github.com/mirkobrombin/warp-weather/v1/config"
	"github.com/mirkobrombin/warp-weather/v1/refresh"
	"github.com/mirkobrombin/warp-weather/v1/weather"
)

var (
	concurrency = flag.Int("c", 50, "Number of concurrent callers")
	requests    = flag.Int("n", 100000, "Total number of requests")
	cities      = flag.Int("cities", 100, "Number of distinct cities")
	cacheSize   = flag.Int("size", config.DefaultCacheSize, "Cache capacity")
	latency     = flag.Duration("latency", time.Millisecond, "Simulated API latency")
	polling     = flag.Bool("polling", false, "Run the client in polling mode")
)

// validateFlags rejects workloads that would leave a worker with no requests.
func validateFlags(concurrency, requests, cities int) error {
	switch {
	case concurrency < 1:
		return fmt.Errorf("-c must be at least 1, got %d", concurrency)
	case requests < concurrency:
		return fmt.Errorf("-n must be at least -c (%d), got %d", concurrency, requests)
	case cities < 1:
		return fmt.Errorf("-cities must be at least 1, got %d", cities)
	}
	return nil
}

func main() {
	flag.Parse()
	if err := validateFlags(*concurrency, *requests, *cities); err != nil {
		log.Fatalf("Invalid flags: %v", err)
	}

	log.Printf("Starting benchmark: %d requests, %d concurrency, %d cities, cache size %d",
		*requests, *concurrency, *cities, *cacheSize)

	var fetches atomic.Int64
	fetch := refresh.FetcherFunc[weather.Data](func(ctx context.Context, city string) (weather.Data, error) {
		fetches.Add(1)
		select {
		case <-time.After(*latency):
		case <-ctx.Done():
			return weather.Data{}, ctx.Err()
		}
		return weather.Data{Name: city, Datetime: time.Now().Unix()}, nil
	})

	cfg := config.Default()
	cfg.CacheSize = *cacheSize
	if *polling {
		cfg.Mode = config.ModePolling
		cfg.PollingInterval = time.Second
	}
	c, err := client.New(cfg, client.WithFetcher(fetch))
	if err != nil {
		log.Fatalf("Setup failed: %v", err)
	}
	defer c.Close()

	names := make([]string, *cities)
	for i := range names {
		names[i] = fmt.Sprintf("city-%03d", i)
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	var ops, errorsCount atomic.Int64

	start := time.Now()
	reqsPerWorker := *requests / *concurrency

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			// Zipf keeps a few cities hot, like real lookups.
			z := rand.NewZipf(rand.New(rand.NewSource(seed)), 1.2, 1, uint64(len(names)-1))
			for j := 0; j < reqsPerWorker; j++ {
				if _, err := c.GetWeather(ctx, names[z.Uint64()]); err != nil {
					errorsCount.Add(1)
				}
				ops.Add(1)
			}
		}(int64(i) + 1)
	}

	wg.Wait()
	elapsed := time.Since(start)
	st := c.Stats()

	throughput := float64(ops.Load()) / elapsed.Seconds()
	avgLatency := elapsed.Seconds() / float64(ops.Load()) * 1e9 // ns
	hitRatio := float64(st.Cache.Hits) / float64(st.Cache.Hits+st.Cache.Misses)

	log.Printf("Finished in %v", elapsed)
	log.Printf("Throughput: %.2f req/s", throughput)
	log.Printf("Avg Latency: %.2f ns", avgLatency)
	log.Printf("Hit ratio: %.2f%% (%d API calls, %d evictions)", hitRatio*100, fetches.Load(), st.Cache.Evictions)
	if *polling {
		log.Printf("Refresh passes: %d", st.Refresh.Passes)
	}
	if n := errorsCount.Load(); n > 0 {
		log.Printf("Errors: %d", n)
	}
}
