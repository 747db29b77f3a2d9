// Command pagetree-bench replays a workload file of console commands
// against an engine from N concurrent goroutines and reports throughput.
// Grounded in the teacher's cmd/dinodb_stress: parse a newline-delimited
// workload file, fan it out over a channel to n worker goroutines with
// jittered delays so concurrent writers actually interleave, then drive it
// through the REPL's RunChan. Generalized from dinodb_stress's
// single-table btree-or-hash setup to pagetree's named trees (the
// workload file itself issues the "create" command for whichever trees it
// needs) and from a silent run to one that reports elapsed time and
// operation count, since "bench" rather than "stress" is this tool's job.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"pagetree/pkg/config"
	"pagetree/pkg/console"
	"pagetree/pkg/engine"
)

const startupDelay = 50 * time.Millisecond

var maxJitterMillis int64 = 5

func jitter() time.Duration {
	return time.Duration(rand.Int63n(maxJitterMillis)+1) * time.Millisecond
}

func parseWorkload(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func main() {
	dirFlag := flag.String("db", "data", "engine directory")
	workloadFlag := flag.String("workload", "", "workload file of console commands (required)")
	nFlag := flag.Int("n", 1, "number of concurrent worker goroutines")
	flag.Parse()

	if *workloadFlag == "" {
		fmt.Fprintln(os.Stderr, "must specify -workload <file>")
		os.Exit(1)
	}

	workload, err := parseWorkload(*workloadFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	e, err := engine.Open(*dirFlag, config.DefaultOptions())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer e.Close()

	r := console.New(e)
	lines := make(chan string)
	go r.RunChan(lines, uuid.New(), os.Stdout)
	time.Sleep(startupDelay)

	start := time.Now()
	var wg sync.WaitGroup
	n := *nFlag
	if n < 1 {
		n = 1
	}
	for worker := 0; worker < n; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := worker; i < len(workload); i += n {
				time.Sleep(jitter())
				lines <- workload[i]
			}
		}(worker)
	}
	wg.Wait()
	close(lines)
	elapsed := time.Since(start)

	fmt.Printf("%d ops across %d workers in %s (%.0f ops/sec)\n",
		len(workload), n, elapsed, float64(len(workload))/elapsed.Seconds())
}
