// Load generator for exercising a running Shaayud instance with synthetic telemetry.
//
// Usage:
//
//	go run ./cmd/loadgen -url http://localhost:8080 -count 5000 -workers 20
//
// This tool:
//  1. Synthesizes records for a fixed pool of identities, devices and IPs
//  2. Sends each record to /ingest (or /ingest/async with -async)
//  3. Reports throughput, latency percentiles and the status code distribution
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaayud/shaayud/internal/domain"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Mobile/15E148",
	"Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Tablet",
}

var cities = []struct{ country, region, city, tz string }{
	{"BR", "SP", "Sao Paulo", "America/Sao_Paulo"},
	{"BR", "RJ", "Rio de Janeiro", "America/Sao_Paulo"},
	{"US", "CA", "San Francisco", "America/Los_Angeles"},
	{"PT", "11", "Lisbon", "Europe/Lisbon"},
}

// Stats tracks load generator results
type Stats struct {
	Sent   int64
	Errors int64

	mu        sync.Mutex
	statuses  map[int]int64
	latencies []time.Duration
}

func (s *Stats) record(code int, latency time.Duration) {
	s.mu.Lock()
	s.statuses[code]++
	s.latencies = append(s.latencies, latency)
	s.mu.Unlock()
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Shaayud base URL")
	count := flag.Int("count", 1000, "Number of records to send")
	workers := flag.Int("workers", 10, "Number of concurrent senders")
	identities := flag.Int("identities", 50, "Size of the identity pool")
	devices := flag.Int("devices", 80, "Size of the device pool")
	async := flag.Bool("async", false, "Post to /ingest/async instead of /ingest")
	seed := flag.Uint64("seed", 1, "Random seed for record synthesis")
	flag.Parse()

	if *count <= 0 || *workers <= 0 || *identities <= 0 || *devices <= 0 {
		fmt.Println("Usage: loadgen [-url http://localhost:8080] [-count N] [-workers N]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	endpoint := *baseURL + "/ingest"
	if *async {
		endpoint += "/async"
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║              SHAAYUD LOADGEN - Synthetic Telemetry            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nEndpoint:    %s\n", endpoint)
	fmt.Printf("Records:     %d\n", *count)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Identities:  %d\n", *identities)
	fmt.Printf("Devices:     %d\n", *devices)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Shaayud not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Shaayud is running:")
		fmt.Println("  go run ./cmd/shaayud")
		os.Exit(1)
	}
	fmt.Println("✓ Shaayud is healthy")

	rng := rand.New(rand.NewPCG(*seed, *seed))
	records := make([]*domain.IngestInput, *count)
	start := time.Now().UTC()
	for i := range records {
		records[i] = synthesize(rng, i, *identities, *devices, start)
	}

	stats := &Stats{statuses: make(map[int]int64)}
	startTime := time.Now()
	run(records, endpoint, *workers, stats)
	printResults(stats, time.Since(startTime))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// synthesize builds record i. Devices and IPs are shared across identities so
// the graph gets fan-in on both.
func synthesize(rng *rand.Rand, i, identities, devices int, base time.Time) *domain.IngestInput {
	identity := fmt.Sprintf("user-%04d", rng.IntN(identities))
	device := fmt.Sprintf("dev-%04d", rng.IntN(devices))
	ua := userAgents[rng.IntN(len(userAgents))]
	loc := cities[rng.IntN(len(cities))]
	ip := fmt.Sprintf("203.0.%d.%d", rng.IntN(4), 1+rng.IntN(254))

	path := "/checkout"
	if rng.IntN(3) > 0 {
		path = "/products"
	}
	frontURL := "https://shop.example.com" + path

	tsStart := base.Add(time.Duration(i) * time.Second).UnixMilli()
	tsEnd := tsStart + int64(500+rng.IntN(4000))
	clicks := make([]any, rng.IntN(6))
	for j := range clicks {
		clicks[j] = map[string]any{"x": rng.IntN(1280), "y": rng.IntN(800)}
	}

	return &domain.IngestInput{
		SubjectID: identity,
		Fingerprint: map[string]any{
			"visitorId": device,
			"components": map[string]any{
				"platform":  map[string]any{"value": "Linux x86_64"},
				"userAgent": map[string]any{"value": ua},
			},
		},
		IP:        ip,
		UserAgent: ua,
		Header: map[string]any{
			"x-geo-country":  loc.country,
			"x-geo-region":   loc.region,
			"x-geo-city":     loc.city,
			"x-geo-timezone": loc.tz,
		},
		Timestamp: base.Add(time.Duration(i) * time.Second),
		Method:    "GET",
		Path:      path,
		FrontURL:  &frontURL,
		FrontPath: &path,
		TsStart:   &tsStart,
		TsEnd:     &tsEnd,
		Viewport:  map[string]any{"w": 1280, "h": 800},
		Clicks:    clicks,
	}
}

func run(records []*domain.IngestInput, endpoint string, numWorkers int, stats *Stats) {
	work := make(chan *domain.IngestInput, 100)
	var wg sync.WaitGroup

	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for rec := range work {
				start := time.Now()
				code, err := send(client, endpoint, rec)
				elapsed := time.Since(start)
				atomic.AddInt64(&stats.Sent, 1)

				if err != nil {
					atomic.AddInt64(&stats.Errors, 1)
					continue
				}
				stats.record(code, elapsed)
			}
		}()
	}

	for _, rec := range records {
		work <- rec
	}
	close(work)

	wg.Wait()
}

func send(client *http.Client, endpoint string, rec *domain.IngestInput) (int, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}

	resp, err := client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func printResults(s *Stats, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        LOADGEN RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n   Sent:             %d\n", s.Sent)
	fmt.Printf("   Transport errors: %d\n", s.Errors)
	fmt.Printf("   Duration:         %s\n", duration.Round(time.Millisecond))
	if duration > 0 {
		fmt.Printf("   Throughput:       %.1f records/s\n", float64(s.Sent)/duration.Seconds())
	}

	sort.Slice(s.latencies, func(i, j int) bool { return s.latencies[i] < s.latencies[j] })
	fmt.Printf("   Latency p50:      %s\n", percentile(s.latencies, 0.50).Round(time.Microsecond))
	fmt.Printf("   Latency p95:      %s\n", percentile(s.latencies, 0.95).Round(time.Microsecond))
	fmt.Printf("   Latency p99:      %s\n", percentile(s.latencies, 0.99).Round(time.Microsecond))

	codes := make([]int, 0, len(s.statuses))
	for code := range s.statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	fmt.Println("\n   Status codes:")
	for _, code := range codes {
		fmt.Printf("     %d: %d\n", code, s.statuses[code])
	}
	fmt.Println()
}
