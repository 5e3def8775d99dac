package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type benchResult struct {
	Timestamp          string         `json:"timestamp"`
	BaseURL            string         `json:"base_url"`
	Scenario           string         `json:"scenario"`
	Transactions       int            `json:"transactions"`
	Concurrency        int            `json:"concurrency"`
	SuccessfulRequests int            `json:"successful_requests"`
	ErrorRequests      int            `json:"error_requests"`
	DurationSeconds    float64        `json:"duration_seconds"`
	AvgLatencyMs       float64        `json:"avg_latency_ms"`
	MinLatencyMs       float64        `json:"min_latency_ms"`
	MaxLatencyMs       float64        `json:"max_latency_ms"`
	P50LatencyMs       float64        `json:"p50_latency_ms"`
	P90LatencyMs       float64        `json:"p90_latency_ms"`
	P95LatencyMs       float64        `json:"p95_latency_ms"`
	P99LatencyMs       float64        `json:"p99_latency_ms"`
	ThroughputRPS      float64        `json:"throughput_rps"`
	StatusCounts       map[string]int `json:"status_counts"`
	ErrorClasses       map[string]int `json:"error_classes"`
	FirstError         string         `json:"first_error"`
}

type metrics struct {
	mu           sync.Mutex
	success      int
	errors       int
	total        time.Duration
	minLatency   time.Duration
	maxLatency   time.Duration
	latenciesMs  []float64
	statusCounts map[string]int
	errorClasses map[string]int
	firstError   string
}

func newMetrics() *metrics {
	return &metrics{
		statusCounts: make(map[string]int),
		errorClasses: make(map[string]int),
	}
}

func (m *metrics) recordTransaction(latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.errors++
		if m.firstError == "" {
			m.firstError = err.Error()
		}
		return
	}
	m.success++
	m.total += latency
	if m.minLatency == 0 || latency < m.minLatency {
		m.minLatency = latency
	}
	if latency > m.maxLatency {
		m.maxLatency = latency
	}
	m.latenciesMs = append(m.latenciesMs, float64(latency.Milliseconds()))
}

func (m *metrics) recordStatus(status int, class string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCounts[strconv.Itoa(status)]++
	if class != "" {
		m.errorClasses[class]++
	}
}

func main() {
	baseURL := flag.String("base-url", getenv("CHECKOUT_BASE_URL", "http://localhost:8080"), "checkout-service base URL")
	scenario := flag.String("scenario", "flow", "scenario to run: flow|contention")
	total := flag.Int("total", 1000, "total number of checkout flows")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	amount := flag.Int64("amount", 2000, "checkout total in minor units")
	timeout := flag.Duration("timeout", 10*time.Second, "per-request timeout")
	output := flag.String("output", "", "optional output path for JSON result")
	flag.Parse()

	if *total <= 0 {
		fmt.Fprintln(os.Stderr, "total must be > 0")
		os.Exit(1)
	}
	if *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "concurrency must be > 0")
		os.Exit(1)
	}

	client := &http.Client{Timeout: *timeout}
	m := newMetrics()
	base := strings.TrimRight(*baseURL, "/")

	var runner func() error
	switch *scenario {
	case "flow":
		runner = func() error { return runFlow(client, base, *amount, m) }
	case "contention":
		runner = func() error { return runContention(client, base, *amount, *concurrency, m) }
	default:
		fmt.Fprintf(os.Stderr, "unknown scenario: %s\n", *scenario)
		os.Exit(1)
	}

	tasks := make(chan struct{})
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range tasks {
				txStart := time.Now()
				err := runner()
				m.recordTransaction(time.Since(txStart), err)
			}
		}()
	}
	for i := 0; i < *total; i++ {
		tasks <- struct{}{}
	}
	close(tasks)
	wg.Wait()

	duration := time.Since(start)
	avgLatency, minLatency, maxLatency := 0.0, 0.0, 0.0
	if m.success > 0 {
		avgLatency = float64(m.total.Milliseconds()) / float64(m.success)
		minLatency = float64(m.minLatency.Milliseconds())
		maxLatency = float64(m.maxLatency.Milliseconds())
	}
	p50, p90, p95, p99 := calcPercentiles(m.latenciesMs)

	result := benchResult{
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		BaseURL:            *baseURL,
		Scenario:           *scenario,
		Transactions:       *total,
		Concurrency:        *concurrency,
		SuccessfulRequests: m.success,
		ErrorRequests:      m.errors,
		DurationSeconds:    duration.Seconds(),
		AvgLatencyMs:       avgLatency,
		MinLatencyMs:       minLatency,
		MaxLatencyMs:       maxLatency,
		P50LatencyMs:       p50,
		P90LatencyMs:       p90,
		P95LatencyMs:       p95,
		P99LatencyMs:       p99,
		ThroughputRPS:      float64(m.success) / duration.Seconds(),
		StatusCounts:       m.statusCounts,
		ErrorClasses:       m.errorClasses,
		FirstError:         m.firstError,
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode result: %v\n", err)
		os.Exit(1)
	}
	if *output != "" {
		if err := writeResult(*output, result); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write output: %v\n", err)
			os.Exit(1)
		}
	}
}

// runFlow drives one full checkout: seed state, mint a matching
// instrument, complete with an idempotency key.
func runFlow(client *http.Client, base string, amount int64, m *metrics) error {
	checkoutID := "bench-" + uuid.NewString()

	status, _, err := postJSON(client, http.MethodPut, base+"/checkout/"+checkoutID+"/state", map[string]any{
		"lineItems":   []map[string]any{{"productId": "sku-1", "quantity": 1, "price": amount}},
		"totalAmount": amount,
		"currency":    "USD",
	})
	m.recordStatus(status, classify("put_state", status, err))
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("put state returned %d", status)
	}

	instID, err := mintInstrument(client, base, checkoutID, amount, m)
	if err != nil {
		return err
	}

	status, body, err := postJSON(client, http.MethodPost, base+"/checkout/"+checkoutID+"/complete", map[string]any{
		"instrumentId":   instID,
		"idempotencyKey": uuid.NewString(),
	})
	m.recordStatus(status, classify("complete", status, err))
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("complete returned %d: %s", status, body)
	}
	return nil
}

// runContention mints one instrument and completes it from `parallel`
// goroutines at once; exactly one 200 is expected, the rest must be
// INSTRUMENT_ALREADY_USED or CHECKOUT_ALREADY_COMPLETED rejections.
func runContention(client *http.Client, base string, amount int64, parallel int, m *metrics) error {
	checkoutID := "bench-" + uuid.NewString()

	status, _, err := postJSON(client, http.MethodPut, base+"/checkout/"+checkoutID+"/state", map[string]any{
		"lineItems":   []map[string]any{{"productId": "sku-1", "quantity": 1, "price": amount}},
		"totalAmount": amount,
		"currency":    "USD",
	})
	m.recordStatus(status, classify("put_state", status, err))
	if err != nil || status != http.StatusOK {
		return fmt.Errorf("put state returned %d (%v)", status, err)
	}

	instID, err := mintInstrument(client, base, checkoutID, amount, m)
	if err != nil {
		return err
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _, err := postJSON(client, http.MethodPost, base+"/checkout/"+checkoutID+"/complete", map[string]any{
				"instrumentId": instID,
			})
			m.recordStatus(status, classify("complete", status, err))
			if err == nil && status == http.StatusOK {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		return fmt.Errorf("expected exactly 1 successful completion, got %d", success)
	}
	return nil
}

func mintInstrument(client *http.Client, base, checkoutID string, amount int64, m *metrics) (string, error) {
	status, body, err := postJSON(client, http.MethodPost, base+"/checkout/"+checkoutID+"/mint", map[string]any{
		"handlerId": "com.ucp.sandbox",
		"amount":    amount,
		"currency":  "USD",
	})
	m.recordStatus(status, classify("mint", status, err))
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("mint returned %d: %s", status, body)
	}
	var resp struct {
		Instrument struct {
			ID string `json:"id"`
		} `json:"instrument"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	return resp.Instrument.ID, nil
}

func postJSON(client *http.Client, method, url string, payload any) (int, []byte, error) {
	data, _ := json.Marshal(payload)
	ctx, cancel := context.WithTimeout(context.Background(), client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body, nil
}

func classify(op string, status int, err error) string {
	switch {
	case err != nil:
		return op + "_transport"
	case status >= 500:
		return op + "_5xx"
	case status >= 400:
		return op + "_4xx"
	default:
		return ""
	}
}

func calcPercentiles(latencies []float64) (p50, p90, p95, p99 float64) {
	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sorted := append([]float64(nil), latencies...)
	sort.Float64s(sorted)
	pick := func(p float64) float64 {
		idx := int(math.Ceil(p*float64(len(sorted)))) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}
	return pick(0.50), pick(0.90), pick(0.95), pick(0.99)
}

func writeResult(path string, result benchResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
