package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"pictor/internal/config"
	"pictor/internal/ingest"
)

type benchOptions struct {
	BaseURL     string
	Requests    int
	Concurrency int
	Resource    string
	Slot        string
	Width       int
	Height      int
	Secret      string
}

type benchStats struct {
	Success     uint64
	Failed      uint64
	Latencies   []time.Duration
	StatusCodes map[int]int
	mu          sync.Mutex
}

// Reduce GC pressure by reusing buffers
var bufferPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

func benchCmd() *cobra.Command {
	var opts benchOptions

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Load test a running server with uploads and derivative reads",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.BaseURL == "" {
				opts.BaseURL = config.AppConfig.GetBaseUrl()
			}
			opts.Secret = config.AppConfig.Security.UploadSecret
			return runBench(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.BaseURL, "url", "u", "", "Server base URL (default from config)")
	cmd.Flags().IntVarP(&opts.Requests, "requests", "n", 500, "Requests per phase")
	cmd.Flags().IntVarP(&opts.Concurrency, "workers", "w", 20, "Concurrent clients")
	cmd.Flags().StringVar(&opts.Resource, "resource", "", "Resource type slug (required)")
	cmd.Flags().StringVar(&opts.Slot, "slot", "", "Multi-image slot to upload into (required)")
	cmd.Flags().IntVar(&opts.Width, "width", 1200, "Generated image width")
	cmd.Flags().IntVar(&opts.Height, "height", 800, "Generated image height")
	cmd.MarkFlagRequired("resource")
	cmd.MarkFlagRequired("slot")
	return cmd
}

func runBench(opts benchOptions) error {
	pterm.DefaultBigText.WithLetters(
		pterm.NewLettersFromStringWithStyle("PICTOR", pterm.NewStyle(pterm.FgCyan)),
		pterm.NewLettersFromStringWithStyle("BENCH", pterm.NewStyle(pterm.FgMagenta)),
	).Render()
	pterm.Info.Printf("Target: %s | Workers: %d | Requests: %d\n", opts.BaseURL, opts.Concurrency, opts.Requests)

	client := &http.Client{
		Timeout: 2 * time.Minute,
		Transport: &http.Transport{
			MaxIdleConns:          1000,
			MaxIdleConnsPerHost:   opts.Concurrency + 50,
			IdleConnTimeout:       90 * time.Second,
			DisableCompression:    true,
			ResponseHeaderTimeout: 2 * time.Minute,
		},
	}

	spinner, _ := pterm.DefaultSpinner.Start("Checking server...")
	resp, err := client.Get(opts.BaseURL + "/stats")
	if err != nil {
		spinner.Fail("Server is DOWN! (" + opts.BaseURL + ")")
		return err
	}
	resp.Body.Close()
	spinner.Success("Server is UP! (" + opts.BaseURL + ")")

	img := createBenchImage(opts.Width, opts.Height)

	var (
		mu      sync.Mutex
		created []string
	)
	runPhase("WRITE STRESS TEST (upload + derive)", opts, func() int {
		url, code := benchUpload(client, opts, img)
		if url != "" {
			mu.Lock()
			created = append(created, url)
			mu.Unlock()
		}
		return code
	})

	if len(created) == 0 {
		pterm.Warning.Println("No uploads succeeded; skipping the read phase.")
		return nil
	}

	fmt.Println()
	runPhase("READ STRESS TEST (serve derivative)", opts, func() int {
		return benchGet(client, created[rand.Intn(len(created))])
	})
	return nil
}

func runPhase(name string, opts benchOptions, operation func() int) {
	bar, _ := pterm.DefaultProgressbar.WithTotal(opts.Requests).WithTitle(name).WithRemoveWhenDone(true).Start()

	stats := &benchStats{
		StatusCodes: make(map[int]int),
		Latencies:   make([]time.Duration, 0, opts.Requests),
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, opts.Concurrency)
	start := time.Now()

	for i := 0; i < opts.Requests; i++ {
		wg.Add(1)
		sem <- struct{}{}

		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			t0 := time.Now()
			code := operation()
			stats.record(code, time.Since(t0))
			bar.Increment()
		}()
	}

	wg.Wait()
	printBenchReport(stats, time.Since(start))
}

func (s *benchStats) record(code int, d time.Duration) {
	s.mu.Lock()
	s.Latencies = append(s.Latencies, d)
	s.StatusCodes[code]++
	s.mu.Unlock()

	if code >= 200 && code < 300 {
		atomic.AddUint64(&s.Success, 1)
	} else {
		atomic.AddUint64(&s.Failed, 1)
	}
}

// percentile returns the p-th latency of a sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(float64(len(sorted)) * p)
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

// benchUpload stores a temp upload, claims it for a fresh resource and
// returns the URL of the first derivative.
func benchUpload(client *http.Client, opts benchOptions, img []byte) (string, int) {
	body := bufferPool.Get().(*bytes.Buffer)
	body.Reset()
	defer bufferPool.Put(body)

	writer := multipart.NewWriter(body)
	part, _ := writer.CreateFormFile("file", "bench.jpg")
	part.Write(img)
	writer.Close()

	var tmp struct {
		ID string `json:"id"`
	}
	code := benchDo(client, opts, http.MethodPost, opts.BaseURL+"/uploads", writer.FormDataContentType(), body, &tmp)
	if code != http.StatusCreated {
		return "", code
	}

	resourceID := uuid.NewString()[:8]
	request, _ := json.Marshal(map[string]interface{}{
		fmt.Sprintf("new.%s.%s", opts.Slot, tmp.ID): map[string]interface{}{"meta": map[string]string{"alt": "bench"}},
	})
	base := fmt.Sprintf("%s/resources/%s/%s/images", opts.BaseURL, opts.Resource, resourceID)

	var applied struct {
		Outcomes []ingest.Outcome `json:"outcomes"`
	}
	code = benchDo(client, opts, http.MethodPost, base, "application/json", bytes.NewReader(request), &applied)
	if code != http.StatusOK || len(applied.Outcomes) != 1 {
		return "", code
	}
	o := applied.Outcomes[0]
	if o.State != ingest.StatePersisted || o.Record == nil {
		return "", http.StatusUnprocessableEntity
	}
	return fmt.Sprintf("%s/%d/original", base, o.Record.ID), code
}

func benchDo(client *http.Client, opts benchOptions, method, url, contentType string, body io.Reader, out interface{}) int {
	req, _ := http.NewRequest(method, url, body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Secret-Key", opts.Secret)

	resp, err := client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode
}

func benchGet(client *http.Client, url string) int {
	resp, err := client.Get(url)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func createBenchImage(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	// Fill simple noise
	for i := 0; i < w*h*4; i += 4 {
		img.Pix[i] = uint8(rand.Intn(255))
		img.Pix[i+1] = uint8(i / 4 % w)
		img.Pix[i+3] = 255
	}
	buf := new(bytes.Buffer)
	jpeg.Encode(buf, img, nil)
	return buf.Bytes()
}

func printBenchReport(s *benchStats, totalTime time.Duration) {
	if len(s.Latencies) == 0 {
		return
	}

	sort.Slice(s.Latencies, func(i, j int) bool { return s.Latencies[i] < s.Latencies[j] })
	total := len(s.Latencies)

	data := [][]string{
		{"Metric", "Value"},
		{"Throughput", fmt.Sprintf("%.2f Req/sec", float64(total)/totalTime.Seconds())},
		{"Success Rate", fmt.Sprintf("%.2f%%", float64(atomic.LoadUint64(&s.Success))/float64(total)*100)},
		{"Avg Latency (P50)", fmt.Sprintf("%v", percentile(s.Latencies, 0.50))},
		{"P95 Latency", fmt.Sprintf("%v", percentile(s.Latencies, 0.95))},
		{"P99 Latency", fmt.Sprintf("%v", percentile(s.Latencies, 0.99))},
	}

	pterm.DefaultTable.WithHasHeader().WithData(data).Render()

	if atomic.LoadUint64(&s.Failed) > 0 {
		pterm.Warning.Println("Status Code Breakdown (Errors):")
		for code, cnt := range s.StatusCodes {
			if code >= 400 || code == 0 {
				fmt.Printf("HTTP %d: %d\n", code, cnt)
			}
		}
	}
}
