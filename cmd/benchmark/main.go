// Benchmark tool for loading sales into Kestrel and timing scoring runs.
//
// Usage:
//
//	go run ./cmd/benchmark -url http://localhost:8080 -customers 5000
//	go run ./cmd/benchmark -csv sales.csv -branch 1
//
// The tool ingests sales (from a CSV with customer_id, date, amount and an
// optional branch_id column, or generated), then calls GET /scores
// repeatedly with fresh=true and reports latency plus the segment and
// ranking distribution of the last report.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Metrics tracks ingest and scoring results.
type Metrics struct {
	SalesSent    int64
	IngestErrors int64
	IngestMs     int64

	ScoreRuns   int64
	ScoreErrors int64
	ScoreMs     []int64
}

func main() {
	csvPath := flag.String("csv", "", "sales CSV (customer_id,date,amount[,branch_id]); empty generates data")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "tenant id for requests")
	branch := flag.String("branch", "", "branch id for generated sales and scoring")
	customers := flag.Int("customers", 1000, "generated customers")
	salesPer := flag.Int("sales-per-customer", 8, "maximum generated sales per customer")
	batchSize := flag.Int("batch", 500, "sales per POST /sales request")
	workers := flag.Int("workers", 4, "concurrent ingest workers")
	runs := flag.Int("runs", 5, "GET /scores iterations")
	seed := flag.Uint64("seed", 42, "generator seed")
	skipIngest := flag.Bool("skip-ingest", false, "only time scoring")
	flag.Parse()

	fmt.Println("KESTREL BENCHMARK")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Branch:      %s\n", valueOr(*branch, "(all)"))
	fmt.Printf("Workers:     %d\n\n", *workers)

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel serve")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	metrics := &Metrics{}
	client := &http.Client{Timeout: 60 * time.Second}

	if !*skipIngest {
		var sales []domain.SaleRequest
		var err error
		if *csvPath != "" {
			sales, err = readSalesCSV(*csvPath)
		} else {
			sales = generateSales(*seed, *customers, *salesPer, optional(*branch), time.Now().UTC())
		}
		if err != nil {
			fmt.Printf("ERROR: failed to read sales: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ Prepared %d sales\n", len(sales))

		start := time.Now()
		ingest(client, *baseURL, *tenantID, sales, *batchSize, *workers, metrics)
		fmt.Printf("✓ Ingested in %v (%d errors)\n", time.Since(start).Round(time.Millisecond), metrics.IngestErrors)
	}

	report := score(client, *baseURL, *tenantID, *branch, *runs, metrics)
	printResults(metrics, report)
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

func readSalesCSV(path string) ([]domain.SaleRequest, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"customer_id", "date", "amount"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}
	branchCol, hasBranch := colIndex["branch_id"]

	var sales []domain.SaleRequest
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		date, err := parseDate(record[colIndex["date"]])
		if err != nil {
			continue
		}
		amount, err := decimal.NewFromString(record[colIndex["amount"]])
		if err != nil {
			continue
		}
		sale := domain.SaleRequest{
			CustomerID: record[colIndex["customer_id"]],
			Date:       date,
			Amount:     amount,
		}
		if hasBranch && record[branchCol] != "" {
			b := record[branchCol]
			sale.BranchID = &b
		}
		sales = append(sales, sale)
	}
	return sales, nil
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}

// generateSales spreads purchases over the last year so every recency,
// frequency and value bin of a typical parameter set gets customers.
func generateSales(seed uint64, customers, maxPer int, branch *string, now time.Time) []domain.SaleRequest {
	rng := rand.New(rand.NewPCG(seed, seed))
	var sales []domain.SaleRequest
	for c := 0; c < customers; c++ {
		id := fmt.Sprintf("cust-%06d", c)
		n := 1 + rng.IntN(max(maxPer, 1))
		for i := 0; i < n; i++ {
			daysAgo := rng.IntN(365)
			cents := 500 + rng.Int64N(100000)
			sales = append(sales, domain.SaleRequest{
				BranchID:   branch,
				CustomerID: id,
				Date:       now.AddDate(0, 0, -daysAgo),
				Amount:     decimal.New(cents, -2),
			})
		}
	}
	return sales
}

func ingest(client *http.Client, baseURL, tenantID string, sales []domain.SaleRequest, batchSize, numWorkers int, m *Metrics) {
	work := make(chan []domain.SaleRequest, numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range work {
				start := time.Now()
				err := postSales(client, baseURL, tenantID, batch)
				atomic.AddInt64(&m.IngestMs, time.Since(start).Milliseconds())
				if err != nil {
					atomic.AddInt64(&m.IngestErrors, 1)
					fmt.Printf("ERROR: batch of %d -> %v\n", len(batch), err)
					continue
				}
				atomic.AddInt64(&m.SalesSent, int64(len(batch)))
			}
		}()
	}

	for batch := range slices.Chunk(sales, max(batchSize, 1)) {
		work <- batch
	}
	close(work)
	wg.Wait()
}

func postSales(client *http.Client, baseURL, tenantID string, batch []domain.SaleRequest) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, baseURL+"/sales", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}
	return nil
}

func score(client *http.Client, baseURL, tenantID, branch string, runs int, m *Metrics) *domain.ScoreReport {
	q := url.Values{"fresh": {"true"}}
	if branch != "" {
		q.Set("branch", branch)
	}
	target := baseURL + "/scores?" + q.Encode()

	var last *domain.ScoreReport
	for i := 0; i < runs; i++ {
		start := time.Now()
		report, err := getScores(client, target, tenantID)
		m.ScoreRuns++
		if err != nil {
			m.ScoreErrors++
			fmt.Printf("ERROR: GET /scores -> %v\n", err)
			continue
		}
		m.ScoreMs = append(m.ScoreMs, time.Since(start).Milliseconds())
		last = report
	}
	return last
}

func getScores(client *http.Client, target, tenantID string) (*domain.ScoreReport, error) {
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}

	var report domain.ScoreReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, err
	}
	return &report, nil
}

func printResults(m *Metrics, report *domain.ScoreReport) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nINGEST\n")
	fmt.Printf("   Sales Sent:       %d\n", m.SalesSent)
	fmt.Printf("   Batch Errors:     %d\n", m.IngestErrors)
	fmt.Printf("   Request Time:     %d ms (summed over workers)\n", m.IngestMs)

	fmt.Printf("\nSCORING\n")
	fmt.Printf("   Runs:             %d (%d errors)\n", m.ScoreRuns, m.ScoreErrors)
	if len(m.ScoreMs) > 0 {
		sorted := slices.Clone(m.ScoreMs)
		slices.Sort(sorted)
		var sum int64
		for _, v := range sorted {
			sum += v
		}
		fmt.Printf("   Avg Latency:      %.2f ms\n", float64(sum)/float64(len(sorted)))
		fmt.Printf("   Min / Max:        %d / %d ms\n", sorted[0], sorted[len(sorted)-1])
	}

	if report == nil {
		fmt.Println()
		return
	}
	fmt.Printf("\nREPORT (%s, %d customers)\n", report.ParameterSetUsed, len(report.Results))
	segments := make(map[string]int)
	rankings := make(map[string]int)
	for _, c := range report.Results {
		segments[c.Segment]++
		rankings[c.Ranking]++
	}
	printHistogram("Segments", segments, len(report.Results))
	printHistogram("Rankings", rankings, len(report.Results))
	fmt.Println()
}

func printHistogram(title string, counts map[string]int, total int) {
	fmt.Printf("   %s:\n", title)
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if counts[a] != counts[b] {
			return counts[b] - counts[a]
		}
		return strings.Compare(a, b)
	})
	for _, k := range keys {
		fmt.Printf("     %-20s %6d (%.1f%%)\n", k, counts[k], 100*float64(counts[k])/float64(total))
	}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
