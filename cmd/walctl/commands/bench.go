package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/INLOpen/nexuswal/engine"
	"github.com/INLOpen/nexuswal/record"
	tdigest "github.com/caio/go-tdigest/v4"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
	"golang.org/x/time/rate"
)

var (
	benchDataDir string
	benchRegions int
	benchWriters int
	benchEntries int
	benchRate    float64
	benchKeep    bool
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Generate insert load against a WAL engine",
	Long: `Open an engine with the configured WAL settings and write insert-row
records from concurrent writers, waiting for each record to be durable.
Prints throughput and latency quantiles.

Examples:
  walctl bench --entries 100000 --writers 16
  walctl bench --rate 5000 --regions 4 --config config.yaml`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().StringVar(&benchDataDir, "data-dir", "", "data directory (default: a temporary directory)")
	benchCmd.Flags().IntVar(&benchRegions, "regions", 1, "number of regions to spread writes over")
	benchCmd.Flags().IntVar(&benchWriters, "writers", 8, "concurrent writers")
	benchCmd.Flags().IntVar(&benchEntries, "entries", 10000, "total records to write")
	benchCmd.Flags().Float64Var(&benchRate, "rate", 0, "records per second across all writers (0 = unlimited)")
	benchCmd.Flags().BoolVar(&benchKeep, "keep", false, "keep the temporary data directory")
}

type benchParams struct {
	dataDir string
	regions []string
	writers int
	entries int
	rate    float64
}

type benchResult struct {
	written  int64
	failed   int64
	bytes    int64
	elapsed  time.Duration
	latency  *tdigest.TDigest
	firstErr error
}

func runBench(cmd *cobra.Command, _ []string) error {
	if benchWriters <= 0 || benchEntries <= 0 || benchRegions <= 0 {
		return fmt.Errorf("--writers, --entries and --regions must be positive")
	}
	dataDir := benchDataDir
	if dataDir == "" {
		tmp, err := os.MkdirTemp("", "walctl-bench-")
		if err != nil {
			return err
		}
		dataDir = tmp
		if !benchKeep {
			defer os.RemoveAll(tmp)
		}
	}

	regions := make([]string, benchRegions)
	for i := range regions {
		regions[i] = "bench-" + uuid.NewString()[:8]
	}

	out := cmd.OutOrStdout()
	res, err := bench(cmd.Context(), benchParams{
		dataDir: dataDir,
		regions: regions,
		writers: benchWriters,
		entries: benchEntries,
		rate:    benchRate,
	}, progressWriter(out))
	if err != nil {
		return err
	}
	printBenchResult(out, res)
	return nil
}

// progressWriter returns out when it is an interactive terminal, nil otherwise.
func progressWriter(out io.Writer) io.Writer {
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return out
	}
	return nil
}

func bench(ctx context.Context, p benchParams, progress io.Writer) (*benchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Engine.DataDir = p.dataDir
	cfg.Engine.Regions = p.regions
	logger := newLogger()
	opts, err := engine.OptionsFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	opts.PublishMetrics = false

	eng, err := engine.Open(opts)
	if err != nil {
		return nil, err
	}

	td, err := tdigest.New()
	if err != nil {
		_ = eng.Close()
		return nil, fmt.Errorf("tdigest.New failed: %w", err)
	}
	res := &benchResult{latency: td}
	var tdMu, errMu sync.Mutex

	var limiter *rate.Limiter
	if p.rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(p.rate), p.writers)
	}

	var next atomic.Int64
	stopProgress := startProgress(progress, p.entries, res)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < p.writers; w++ {
		g.Go(func() error {
			for {
				i := next.Add(1) - 1
				if i >= int64(p.entries) {
					return nil
				}
				if limiter != nil {
					if err := limiter.Wait(gctx); err != nil {
						return err
					}
				}
				rec := &record.InsertRow{
					Device:       "root.bench.d" + fmt.Sprint(i%16),
					Timestamp:    time.Now().UnixNano(),
					Measurements: []string{"value", "seq"},
					Values:       []interface{}{float64(i) * 0.5, i},
					Index:        i,
				}
				t0 := time.Now()
				err := eng.Write(gctx, p.regions[i%int64(len(p.regions))], rec)
				lat := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&res.failed, 1)
					errMu.Lock()
					if res.firstErr == nil {
						res.firstErr = err
					}
					errMu.Unlock()
					continue
				}
				atomic.AddInt64(&res.written, 1)
				tdMu.Lock()
				_ = res.latency.AddWeighted(float64(lat.Microseconds()), 1)
				tdMu.Unlock()
			}
		})
	}
	runErr := g.Wait()
	res.elapsed = time.Since(start)
	stopProgress()

	for _, region := range p.regions {
		if node, ok := eng.Node(region); ok {
			res.bytes += node.Metrics().BytesWritten.Value()
		}
	}
	if err := eng.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("engine close: %w", err)
	}
	return res, runErr
}

func startProgress(out io.Writer, total int, res *benchResult) func() {
	if out == nil {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				fmt.Fprint(out, "\r\033[K")
				return
			case <-ticker.C:
				n := atomic.LoadInt64(&res.written) + atomic.LoadInt64(&res.failed)
				fmt.Fprintf(out, "\r%d/%d records", n, total)
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func printBenchResult(out io.Writer, res *benchResult) {
	fmt.Fprintf(out, "records:    %d written, %d failed\n", res.written, res.failed)
	fmt.Fprintf(out, "elapsed:    %s\n", res.elapsed.Round(time.Millisecond))
	if secs := res.elapsed.Seconds(); secs > 0 {
		fmt.Fprintf(out, "throughput: %.0f records/s, %.2f MiB/s\n",
			float64(res.written)/secs, float64(res.bytes)/secs/(1<<20))
	}
	if res.latency.Count() > 0 {
		fmt.Fprintf(out, "latency:    p50=%.0fus p90=%.0fus p99=%.0fus max=%.0fus\n",
			res.latency.Quantile(0.5), res.latency.Quantile(0.9), res.latency.Quantile(0.99), res.latency.Quantile(1))
	}
	if res.firstErr != nil {
		fmt.Fprintf(out, "first error: %v\n", res.firstErr)
	}
}
