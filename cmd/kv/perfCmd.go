package kv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	vmetrics "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nkvdb/nkv/client"
	"github.com/nkvdb/nkv/cmd/util"
	"github.com/nkvdb/nkv/common"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for nkv clusters",
		Long:    "",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	KeyValueCommands.PersistentFlags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	KeyValueCommands.PersistentFlags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	KeyValueCommands.PersistentFlags().Int(key, 1000, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	KeyValueCommands.PersistentFlags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
	key = "prometheus"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to dump the client counters in Prometheus text format after the run"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = viper.GetInt("keys")
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// perfOutcome couples the benchmark result with the latency distribution
// recorded while it ran
type perfOutcome struct {
	result    testing.BenchmarkResult
	latencies gometrics.Histogram
}

func runPerf(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for nkv clusters")

	// Print configuration
	config, err := util.GetClientConfig()
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	ctx := context.Background()

	// Create results map
	results := make(map[string]perfOutcome)

	// runBenchmark drives one named test: the op callback performs a single
	// operation on the given key, the latency of every call is recorded.
	runBenchmark := func(name string, prepare bool, op func(key string) error) {
		latencies := gometrics.NewHistogram(gometrics.NewExpDecaySample(1028, 0.015))

		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(name) {
				return
			}

			// prepare keys
			getKey, iter := getKeys(name)

			if prepare {
				iter(func(k string) {
					if _, err := kvClient.Upsert(ctx, k, []byte("test"), client.UpsertOptions{}); err != nil {
						log.Printf("(%s) - error preparing key: %v\n", name, err)
					}
				})
			}

			// cleanup
			b.Cleanup(func() {
				iter(func(k string) {
					if _, err := kvClient.Delete(ctx, k, 0); err != nil {
						log.Printf("(%s) - error deleting key: %v\n", name, err)
					}
				})
			})

			b.SetParallelism(perfNumThreads)

			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					start := time.Now()
					err := op(getKey(counter))
					latencies.Update(time.Since(start).Nanoseconds())
					if err != nil {
						log.Printf("(%s) - operation error: %v\n", name, err)
					}
					counter++
				}
			})
		})

		results[name] = perfOutcome{result: result, latencies: latencies}
		printResult(name, results[name])
	}

	runBenchmark("set", false, func(key string) error {
		_, err := kvClient.Upsert(ctx, key, []byte("test"), client.UpsertOptions{})
		return err
	})

	largeValue := make([]byte, perfLargeValueSizeKB*1024)
	runBenchmark("set-large", false, func(key string) error {
		_, err := kvClient.Upsert(ctx, key, largeValue, client.UpsertOptions{})
		return err
	})

	runBenchmark("get", true, func(key string) error {
		_, err := kvClient.Get(ctx, key)
		return err
	})

	runBenchmark("delete", true, func(key string) error {
		_, err := kvClient.Delete(ctx, key, 0)
		var bse *common.BusinessStatusError
		if errors.As(err, &bse) {
			return nil // the spread wraps around, re-deletes are expected
		}
		return err
	})

	runBenchmark("has", true, func(key string) error {
		_, err := kvClient.Exists(ctx, key)
		return err
	})

	runBenchmark("has-not", false, func(key string) error {
		_, err := kvClient.Exists(ctx, key+"-missing")
		return err
	})

	runBenchmark("incr", false, func(key string) error {
		var initial uint64 = 0
		_, err := kvClient.Increment(ctx, key, 1, client.CounterOptions{Initial: &initial})
		return err
	})

	counter := 0
	runBenchmark("mixed", true, func(key string) error {
		counter++
		switch counter % 4 {
		case 0:
			_, err := kvClient.Upsert(ctx, key, []byte("test"), client.UpsertOptions{})
			return err
		case 1:
			_, err := kvClient.Get(ctx, key)
			return err
		case 2:
			_, err := kvClient.Exists(ctx, key)
			return err
		default:
			_, err := kvClient.Upsert(ctx, key, []byte("test2"), client.UpsertOptions{})
			return err
		}
	})

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	// Dump the client counters if specified
	if promPath := viper.GetString("prometheus"); promPath != "" {
		fmt.Printf("\nDumping client counters: %s\n", promPath)
		file, err := os.Create(promPath)
		if err != nil {
			return fmt.Errorf("failed to create counter dump: %v", err)
		}
		defer file.Close()
		vmetrics.WritePrometheus(file, true)
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, outcome perfOutcome) {
	if outcome.result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(outcome.result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	p := outcome.latencies.Percentiles([]float64{0.5, 0.99})

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\tp50=%s p99=%s\n",
		test, nsPerOp, time.Duration(nsPerOp), opsPerSec,
		time.Duration(p[0]), time.Duration(p[1]))
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]perfOutcome, config common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "P50", "P99", "Skipped",
		"Nodes", "TimeoutSec", "RetryCount", "ConnsPerNode",
		"Transport", "Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, outcome := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if outcome.result.NsPerOp() == 0 {
			skipped = "true"
			nsPerOp = 0
			opsPerSec = 0
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(outcome.result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		p := outcome.latencies.Percentiles([]float64{0.5, 0.99})

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			time.Duration(p[0]).String(),
			time.Duration(p[1]).String(),
			skipped,
			strings.Join(util.GetNodes(), ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(config.MaxConnsPerNode),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
