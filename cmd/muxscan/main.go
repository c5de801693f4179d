// cmd/muxscan/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dikkadev/prettyslog"

	"i2cmux-go/config"
	"i2cmux-go/services/scan"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "topology YAML (default: built-in)")
		timeout = flag.Duration("timeout", 10*time.Second, "overall scan timeout")
		async   = flag.Bool("async", false, "use suspending mutexes for every mux")
		debug   = flag.Bool("debug", false, "log every selection")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(prettyslog.NewPrettyslogHandler("scan",
		prettyslog.WithLevel(level),
	))
	slog.SetDefault(logger)

	top, err := loadTopology(*cfgPath)
	if err != nil {
		slog.Error("loading topology", "err", err)
		os.Exit(1)
	}
	if *async {
		forceAsync(top.Muxes)
	}

	bus := scan.Simulate(top)
	nodes, err := scan.Build(top, bus, logger)
	if err != nil {
		slog.Error("building mux chain", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	res, err := scan.New(logger).Scan(ctx, nodes)
	if err != nil {
		slog.Error("scan aborted", "err", err)
		os.Exit(1)
	}
	slog.Info("scan complete", "muxes", len(nodes), "took", time.Since(start))

	for _, r := range res {
		if len(r.Found) == 0 {
			continue
		}
		addrs := make([]string, len(r.Found))
		for i, a := range r.Found {
			addrs[i] = fmt.Sprintf("0x%02X", a)
		}
		fmt.Printf("%-20s 0x%02X ch%d  %s\n", r.Mux, r.Addr, r.Channel, strings.Join(addrs, " "))
	}
}

func loadTopology(path string) (*config.Topology, error) {
	if path == "" {
		return config.Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return config.Load(f)
}

func forceAsync(ms []config.Mux) {
	for i := range ms {
		ms[i].Async = true
		forceAsync(ms[i].Children)
	}
}
