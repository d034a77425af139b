// Command xharvest ingests the bookmarks of a logged-in browser session.
//
// Usage:
//
//	xharvest -check                      # report the browser and the tab used
//	xharvest -collect                    # scroll the feed, print item references
//	xharvest -import                     # collect, extract and deliver new items
//	xharvest -retry                      # re-extract items that failed transiently
//	xharvest -serve :8080                # HTTP control API
//	xharvest -mcp                        # MCP tools over stdio
//
// Chrome must run with remote debugging enabled and be logged in to the feed.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/xharvest/bookmarks"
	"github.com/hazyhaar/xharvest/bookmarks/store"
)

const version = "0.1.0"

const (
	retryBatch       = 50
	retryVisibility  = 10 * time.Minute
	retryMaxAttempts = 5
)

type options struct {
	configPath string
	check      bool
	collect    bool
	doImport   bool
	retry      bool
	serveAddr  string
	mcp        bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to xharvest.yaml (defaults apply when empty)")
	flag.BoolVar(&opts.check, "check", false, "check the browser is reachable and exit")
	flag.BoolVar(&opts.collect, "collect", false, "collect item references and print them as JSON lines")
	flag.BoolVar(&opts.doImport, "import", false, "run a full import")
	flag.BoolVar(&opts.retry, "retry", false, "retry items queued after transient failures")
	flag.StringVar(&opts.serveAddr, "serve", "", "serve the HTTP control API on this address")
	flag.BoolVar(&opts.mcp, "mcp", false, "serve MCP tools over stdio")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, opts); err != nil {
		logger.Error("xharvest: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	cfg := bookmarks.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = bookmarks.LoadConfigFile(opts.configPath); err != nil {
			return err
		}
	}

	switch {
	case opts.check:
		return runCheck(ctx, logger, cfg)
	case opts.collect:
		return runCollect(ctx, logger, cfg)
	case opts.doImport, opts.retry, opts.serveAddr != "", opts.mcp:
		return runWithStore(ctx, logger, cfg, opts)
	}

	fmt.Fprintln(os.Stderr, "usage: xharvest [-config file] -check | -collect | -import | -retry | -serve addr | -mcp")
	os.Exit(2)
	return nil
}

func runCheck(ctx context.Context, logger *slog.Logger, cfg *bookmarks.Config) error {
	a, err := bookmarks.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	info, err := a.Browser(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(info); err != nil {
		return err
	}
	if info.Selected == nil {
		return bookmarks.ErrNoTab
	}
	return nil
}

func runCollect(ctx context.Context, logger *slog.Logger, cfg *bookmarks.Config) error {
	a, err := bookmarks.New(cfg, logger, bookmarks.WithCollectProgress(collectProgress(logger)))
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Collect(ctx)
	if res != nil {
		enc := json.NewEncoder(os.Stdout)
		for _, it := range res.Items {
			if err := enc.Encode(it); err != nil {
				return err
			}
		}
	}
	return err
}

// runWithStore covers the modes that record processed items.
func runWithStore(ctx context.Context, logger *slog.Logger, cfg *bookmarks.Config, opts options) error {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	// stdout belongs to the MCP transport in -mcp mode.
	var out io.Writer = os.Stdout
	if opts.mcp {
		out = os.Stderr
	}
	sinks, err := bookmarks.SinksFromConfig(cfg, out, logger)
	if err != nil {
		return err
	}
	failed := &idSet{}
	sinks = append(sinks, bookmarks.NewCallbackSink(nil,
		func(ctx context.Context, s bookmarks.Seed) error {
			_, err := st.SaveSeed(ctx, s)
			return err
		},
		func(ctx context.Context, o bookmarks.Outcome) error {
			failed.add(o.Item.SourceID)
			if !o.Retryable {
				return nil
			}
			return st.Enqueue(ctx, o.Item, o.Err)
		}))

	a, err := bookmarks.New(cfg, logger,
		bookmarks.WithSinks(sinks...),
		bookmarks.WithProcessedStore(st.IsProcessed, st.MarkProcessed),
		bookmarks.WithCollectProgress(collectProgress(logger)),
		bookmarks.WithExtractProgress(func(current, total int, item bookmarks.Item) {
			logger.Info("xharvest: extracting", "n", current, "of", total, "url", item.URL)
		}),
	)
	if err != nil {
		return err
	}
	defer a.Close()

	switch {
	case opts.mcp:
		srv := mcp.NewServer(&mcp.Implementation{Name: "xharvest", Version: version}, nil)
		a.RegisterMCP(srv)
		logger.Info("xharvest: mcp on stdio")
		return srv.Run(ctx, &mcp.StdioTransport{})

	case opts.serveAddr != "":
		return serve(ctx, logger, opts.serveAddr, a.Handler())

	case opts.retry:
		return runRetry(ctx, logger, a, st, failed)

	default:
		stats, err := a.Import(ctx)
		if stats != nil {
			seeds, seen, _ := st.Counts(ctx)
			logger.Info("xharvest: import summary",
				"run", stats.RunID, "collected", stats.Collected, "extracted", stats.Extracted,
				"skipped", stats.Skipped, "failed", stats.Failed, "last", stats.LastProcessedID,
				"stored_seeds", seeds, "processed_ids", seen)
		}
		return err
	}
}

// runRetry drains the retry queue once. Jobs past retryMaxAttempts are
// dropped; the rest are re-extracted and, on success, leave the queue
// through SaveSeed. A job failing again stays hidden until its visibility
// window ends. When the browser is down or the session drops, jobs the
// run never attempted are released without spending an attempt.
func runRetry(ctx context.Context, logger *slog.Logger, a *bookmarks.Adapter, st *store.Store, failed *idSet) error {
	if _, err := a.Browser(ctx); err != nil {
		return err
	}
	jobs, err := st.Claim(ctx, retryBatch, retryVisibility)
	if err != nil {
		return err
	}
	items := make([]bookmarks.Item, 0, len(jobs))
	for _, j := range jobs {
		if j.Attempts > retryMaxAttempts {
			logger.Warn("xharvest: retry abandoned", "id", j.Item.SourceID,
				"attempts", j.Attempts-1, "last_error", j.LastError)
			if err := st.Ack(ctx, j.Item.SourceID); err != nil {
				return err
			}
			continue
		}
		if done, err := st.IsProcessed(ctx, j.Item.SourceID); err != nil {
			return err
		} else if done {
			if err := st.Ack(ctx, j.Item.SourceID); err != nil {
				return err
			}
			continue
		}
		items = append(items, j.Item)
	}
	if len(items) == 0 {
		logger.Info("xharvest: retry queue empty")
		return nil
	}

	stats, err := a.ImportItems(ctx, items)
	if err != nil {
		var untouched []string
		for _, it := range items {
			if failed.has(it.SourceID) {
				continue
			}
			if done, perr := st.IsProcessed(context.WithoutCancel(ctx), it.SourceID); perr == nil && !done {
				untouched = append(untouched, it.SourceID)
			}
		}
		if rerr := st.Release(context.WithoutCancel(ctx), untouched...); rerr != nil {
			logger.Warn("xharvest: release claims failed", "error", rerr)
		}
		logger.Warn("xharvest: retry interrupted", "released", len(untouched), "error", err)
		return err
	}
	left, _ := st.RetryLen(ctx)
	logger.Info("xharvest: retry summary",
		"run", stats.RunID, "claimed", len(jobs), "extracted", stats.Extracted,
		"skipped", stats.Skipped, "failed", stats.Failed, "queued", left)
	return nil
}

// idSet records the ids delivered as failures during this process.
type idSet struct {
	mu  sync.Mutex
	ids map[string]bool
}

func (s *idSet) add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids == nil {
		s.ids = make(map[string]bool)
	}
	s.ids[id] = true
}

func (s *idSet) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids[id]
}

func serve(ctx context.Context, logger *slog.Logger, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("xharvest: http listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func collectProgress(logger *slog.Logger) func(bookmarks.CollectProgress) {
	return func(p bookmarks.CollectProgress) {
		logger.Info("xharvest: scroll",
			"n", p.ScrollNumber, "total", p.TotalFound, "new", p.NewItemsFound,
			"streak", p.NoNewItemsStreak, "elapsed", p.Elapsed.Round(time.Second))
	}
}
