package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"altfinder/internal/config"
	"altfinder/internal/pkg/batch"
	"altfinder/internal/pkg/logger"
	"altfinder/internal/pkg/ratelimit"
	"altfinder/internal/recs"
	"altfinder/internal/site"
	"altfinder/internal/source"
)

// main 在本地直接运行推荐流程并把结果以 JSON 输出到 stdout，不依赖 Redis。
//
// 用法:
//
//	recs -url https://www.amazon.in/dp/B0XXXXXXXX -limit 15 [-site amazon] [-static]
//	recs -file seeds.txt -workers 2
func main() {
	os.Exit(run())
}

type urlList []string

func (u *urlList) String() string { return strings.Join(*u, ",") }

func (u *urlList) Set(v string) error {
	*u = append(*u, strings.TrimSpace(v))
	return nil
}

func run() int {
	var (
		urls       urlList
		file       = flag.String("file", "", "file with one seed URL per line")
		siteID     = flag.String("site", "", "site id (empty: detect from URL)")
		limit      = flag.Int("limit", 0, "number of recommendations (0: configured default)")
		static     = flag.Bool("static", false, "use plain HTTP fetching instead of a browser")
		workers    = flag.Int("workers", 1, "seeds processed in parallel")
		rps        = flag.Float64("rps", 1, "page navigations per second")
		burst      = flag.Int("burst", 2, "navigation burst size")
		configPath = flag.String("config", "", "config file (default configs/config.json)")
		pretty     = flag.Bool("pretty", false, "indent JSON output")
	)
	flag.Var(&urls, "url", "seed product URL (repeatable)")
	flag.Parse()

	if *file != "" {
		fromFile, err := readURLs(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read %s: %v\n", *file, err)
			return 2
		}
		urls = append(urls, fromFile...)
	}
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "at least one -url or -file is required")
		flag.Usage()
		return 2
	}

	cfg := config.LoadOrDefault(*configPath)
	if *static {
		cfg.Browser.Static = true
	}
	appLogger := logger.New(os.Stderr, cfg.App.LogLevel, false)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := recs.OptionsFromConfig(cfg.Pipeline)
	if err != nil {
		appLogger.Error("invalid pipeline config", slog.String("error", err.Error()))
		return 2
	}

	limiter := ratelimit.NewLocal(*rps, *burst)
	var src source.Source
	if cfg.Browser.Static {
		src = source.NewHTTPSource(cfg.Browser.PageTimeout, source.Profile{}, limiter, appLogger)
	} else {
		bs, err := source.NewBrowserSource(ctx, source.BrowserOptions{
			BinPath:     cfg.Browser.BinPath,
			ProxyURL:    cfg.Browser.ProxyURL,
			Headless:    cfg.Browser.Headless,
			PageTimeout: cfg.Browser.PageTimeout,
		}, limiter, appLogger)
		if err != nil {
			appLogger.Error("start browser failed", slog.String("error", err.Error()))
			return 1
		}
		defer bs.Close()
		src = bs
	}

	recommender := recs.NewRecommender(site.Default(), src, opts, appLogger)
	reqs := make([]batch.Request, 0, len(urls))
	for _, u := range urls {
		reqs = append(reqs, batch.Request{Site: *siteID, URL: u, Limit: *limit})
	}
	runner := batch.NewRunner(appLogger, *workers, recommender.Recommend)
	outcomes := runner.Run(ctx, reqs)

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}

	// 单个种子直接输出推荐结果
	if len(outcomes) == 1 {
		o := outcomes[0]
		if o.Err != nil {
			appLogger.Error("recommendation failed",
				slog.String("url", o.Request.URL),
				slog.String("error", o.Error))
			return exitCode(o.Err)
		}
		if err := enc.Encode(o.Result); err != nil {
			appLogger.Error("write output failed", slog.String("error", err.Error()))
			return 1
		}
		return 0
	}

	if err := enc.Encode(outcomes); err != nil {
		appLogger.Error("write output failed", slog.String("error", err.Error()))
		return 1
	}
	if s := runner.Stats(); s.TotalFailed > 0 || s.TotalProcessed < int64(len(reqs)) {
		return 1
	}
	return 0
}

// exitCode 区分输入问题与运行失败。
func exitCode(err error) int {
	if errors.Is(err, recs.ErrUnsupportedSite) {
		return 2
	}
	return 1
}

func readURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}
