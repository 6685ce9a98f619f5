// validate fetches one or more HLS playlist trees once and reports findings.
//
// Usage:
//
//	validate -url https://example.com/master.m3u8 [-url ...] [-scte35] [-json]
//
// Exit codes:
//   - 0: no error-severity findings
//   - 1: at least one error finding (or the cycle failed)
//   - 2: usage error
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"hls-monitor/internal/monitor"
	"hls-monitor/internal/platform/logger"
)

type urlList []string

func (u *urlList) String() string { return fmt.Sprint(*u) }

func (u *urlList) Set(v string) error {
	*u = append(*u, v)
	return nil
}

func main() {
	var urls urlList
	var (
		scte35     = flag.Bool("scte35", false, "enable SCTE-35 cue checks")
		jsonOut    = flag.Bool("json", false, "print findings as JSON lines")
		timeout    = flag.Duration("timeout", 30*time.Second, "overall validation timeout")
		reqTimeout = flag.Duration("request-timeout", 10*time.Second, "per-fetch timeout")
	)
	flag.Var(&urls, "url", "master playlist URL (repeatable)")
	flag.Parse()

	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one -url is required")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Usage:")
		fmt.Fprintln(os.Stderr, "  validate -url https://example.com/master.m3u8")
		os.Exit(2)
	}

	log := logger.New("warn", "text")

	cfg := monitor.Config{
		SCTE35:         *scte35,
		RequestTimeout: *reqTimeout,
	}
	mon, err := monitor.New("validate", cfg, monitor.NewHTTPFetcher(), nil, log, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	for i, u := range urls {
		if _, err := mon.AddStream(u, fmt.Sprintf("stream-%d", i+1)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := mon.PollOnce(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: validation cycle failed: %v\n", err)
		os.Exit(1)
	}

	errorsFound := report(mon, *jsonOut)
	if errorsFound > 0 {
		os.Exit(1)
	}
}

// report prints the events, then the errors, each group oldest first, and
// returns the error count.
func report(mon *monitor.Monitor, jsonOut bool) int {
	errs := reverse(mon.SnapshotErrors())
	events := reverse(mon.SnapshotEvents())

	enc := json.NewEncoder(os.Stdout)
	for _, f := range append(events, errs...) {
		if jsonOut {
			_ = enc.Encode(f)
			continue
		}
		scope := f.StreamID
		if f.VariantURL != "" {
			scope += " " + f.VariantURL
		}
		fmt.Printf("%-7s %-28s %s  %s\n", f.Severity, f.Kind, scope, f.Message)
	}

	if !jsonOut {
		fmt.Printf("\n%d error(s), %d event(s)\n", len(errs), len(events))
	}
	return len(errs)
}

func reverse(in []monitor.Finding) []monitor.Finding {
	out := make([]monitor.Finding, len(in))
	for i, f := range in {
		out[len(in)-1-i] = f
	}
	return out
}
