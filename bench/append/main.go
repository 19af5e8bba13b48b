// Command append-bench compares sync Append against AsyncAppend
// throughput across a configurable number of concurrent producer
// goroutines and a configurable payload size. Report output is a
// one-shot stdout table written through text/tabwriter.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/marmos91/pmemstream-go/pkg/pmemstream"
)

func main() {
	producers := flag.Int("producers", 4, "number of concurrent producer goroutines")
	perProducer := flag.Int("per-producer", 5000, "entries appended by each producer")
	payloadSize := flag.Int("payload", 128, "payload size in bytes")
	regionSize := flag.Uint64("region-size", 8<<20, "bytes per region")
	flag.Parse()

	payload := make([]byte, *payloadSize)

	syncResult := run("sync", *producers, *perProducer, *regionSize, payload, appendSync)
	asyncResult := run("async", *producers, *perProducer, *regionSize, payload, appendAsync)

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "mode\tentries\tduration\tentries/sec")
	printRow(w, syncResult)
	printRow(w, asyncResult)
	w.Flush()
}

type result struct {
	mode     string
	entries  int
	duration time.Duration
}

func printRow(w *tabwriter.Writer, r result) {
	rate := float64(r.entries) / r.duration.Seconds()
	fmt.Fprintf(w, "%s\t%d\t%s\t%.0f\n", r.mode, r.entries, r.duration, rate)
}

type appendFunc func(s *pmemstream.Stream, region uint64, payload []byte)

func run(mode string, producers, perProducer int, regionSize uint64, payload []byte, fn appendFunc) result {
	dir, err := os.MkdirTemp("", "pmemstream-bench-")
	if err != nil {
		fmt.Fprintln(os.Stderr, "tempdir:", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "stream.pmem")
	s, err := pmemstream.Open(path, pmemstream.Options{
		StreamSize:        regionSize * uint64(producers+1),
		BlockSize:         4096,
		RegionPayloadSize: regionSize,
		MaxConcurrency:    uint64(producers),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer s.Close()

	regions := make([]uint64, producers)
	for i := range regions {
		region, err := s.AllocateRegion(regionSize)
		if err != nil {
			fmt.Fprintln(os.Stderr, "allocate region:", err)
			os.Exit(1)
		}
		regions[i] = region
	}

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(region uint64) {
			defer wg.Done()
			for n := 0; n < perProducer; n++ {
				fn(s, region, payload)
			}
		}(regions[i])
	}
	wg.Wait()
	elapsed := time.Since(start)

	return result{mode: mode, entries: producers * perProducer, duration: elapsed}
}

func appendSync(s *pmemstream.Stream, region uint64, payload []byte) {
	if _, err := s.Append(region, payload); err != nil {
		fmt.Fprintln(os.Stderr, "append:", err)
		os.Exit(1)
	}
}

func appendAsync(s *pmemstream.Stream, region uint64, payload []byte) {
	future := s.AsyncAppend(pmemstream.DefaultDataMover, region, payload)
	if _, err := future.Wait(); err != nil {
		fmt.Fprintln(os.Stderr, "async append:", err)
		os.Exit(1)
	}
}
