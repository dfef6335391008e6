package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"marketForecast/internal/cache"
	"marketForecast/internal/config"
	"marketForecast/internal/finance"
	"marketForecast/internal/logging"
	"marketForecast/internal/metrics"
	"marketForecast/internal/openai"
	"marketForecast/internal/pipeline"
	"marketForecast/internal/scheduler"
	"marketForecast/internal/server"
	"marketForecast/internal/storage"
	"marketForecast/internal/telegram"
)

const usage = `usage: forecast [command] [-config path]

commands:
  run       fetch, clean, explore and forecast once (default)
  fetch     download prices and write the raw CSV
  clean     raw CSV to cleaned CSV
  explore   cleaned CSV to charts and risk metrics
  forecast  cleaned CSV to forecasts, scores and charts
  serve     HTTP server plus the cron schedule`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("forecast: exit")
	}
}

func run(args []string) error {
	cmd := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprintln(fs.Output(), usage); fs.PrintDefaults() }
	cfgPath := fs.String("config", "", "path to a YAML config file")
	runOnStart := fs.Bool("run-on-start", false, "serve: run the pipeline once at startup")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "run":
		return runOnce(ctx, cfg)
	case "fetch":
		_, err := newPipeline(cfg).Fetch(ctx)
		return err
	case "clean":
		raw, err := finance.ReadRawCSV(cfg.Data.RawPath)
		if err != nil {
			return err
		}
		_, err = newPipeline(cfg).Clean(raw)
		return err
	case "explore":
		ct, err := finance.ReadCleanedCSV(cfg.Data.CleanedPath)
		if err != nil {
			return err
		}
		exp, err := newPipeline(cfg).Explore(ct)
		if err != nil {
			return err
		}
		fmt.Println(reportFor(cfg, ct, &pipeline.Report{Exploration: exp}).Text())
		return nil
	case "forecast":
		ct, err := finance.ReadCleanedCSV(cfg.Data.CleanedPath)
		if err != nil {
			return err
		}
		evals, charts, err := newPipeline(cfg).Forecast(ctx, ct)
		if err != nil {
			return err
		}
		fmt.Println(reportFor(cfg, ct, &pipeline.Report{Evaluations: evals, ForecastCharts: charts}).Text())
		return nil
	case "serve":
		return serve(ctx, cfg, *runOnStart)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runOnce(ctx context.Context, cfg *config.Config) error {
	db, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	opts := []pipeline.Option{pipeline.WithStore(store)}
	opts = append(opts, deliveryOptions(cfg, newNotifier(cfg))...)
	rep, err := newPipeline(cfg, opts...).Run(ctx)
	if err != nil {
		return err
	}
	fmt.Println(rep.Text())
	return nil
}

func serve(ctx context.Context, cfg *config.Config, runOnStart bool) error {
	db, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	notifier := newNotifier(cfg)
	opts := []pipeline.Option{pipeline.WithStore(store), pipeline.WithMetrics(metrics.New(reg))}
	opts = append(opts, deliveryOptions(cfg, notifier)...)
	p := newPipeline(cfg, opts...)

	deps := server.Deps{Gatherer: reg, ReportsDir: cfg.Analysis.ReportsDir, Runs: store}
	if notifier != nil {
		deps.Webhook = telegram.WebhookHandler(telegram.NewHandlers(ctx, notifier, p, store))
		if cfg.Telegram.WebhookURL != "" {
			if err := notifier.SetWebhook(cfg.Telegram.WebhookURL); err != nil {
				log.Error().Err(err).Msg("telegram: webhook not set")
			}
		}
	}

	sched := scheduler.NewScheduler(ctx, func(ctx context.Context) error {
		_, err := p.Run(ctx)
		return err
	})
	if err := sched.Register(cfg.Schedule.Cron); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()
	if runOnStart {
		go sched.RunNow()
	}

	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Msg("http: listening")
	return server.ListenAndServe(ctx, addr, server.NewHTTPMux(deps))
}

func newPipeline(cfg *config.Config, opts ...pipeline.Option) *pipeline.Pipeline {
	var src finance.BarSource = finance.NewYahooProvider(cfg.Data.Timeout)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		src = cache.NewCachingSource(rdb, cfg.Redis.TTL, src, cfg.Redis.Namespace)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("cache: redis enabled")
	}
	return pipeline.New(cfg, src, opts...)
}

// newNotifier returns nil when Telegram is not configured or unreachable.
func newNotifier(cfg *config.Config) *telegram.Notifier {
	if cfg.Telegram.Token == "" {
		return nil
	}
	n, err := telegram.NewNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID)
	if err != nil {
		log.Error().Err(err).Msg("telegram: notifier disabled")
		return nil
	}
	return n
}

func deliveryOptions(cfg *config.Config, n *telegram.Notifier) []pipeline.Option {
	var opts []pipeline.Option
	if n != nil && cfg.Telegram.ChatID != 0 {
		opts = append(opts, pipeline.WithNotifier(n))
	}
	if cfg.OpenAI.APIKey != "" {
		opts = append(opts, pipeline.WithCommentator(openai.NewCommentator(cfg.OpenAI.APIKey, cfg.OpenAI.Model)))
	}
	return opts
}

func openStore(cfg *config.Config) (storage.DB, *storage.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := storage.OpenSQLite("file:" + cfg.Storage.DBPath + "?_fk=1")
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("path", cfg.Storage.DBPath).Msg("db: opened sqlite")
	if err := storage.InitSchema(db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, storage.NewStore(db), nil
}

func reportFor(cfg *config.Config, ct *finance.CleanedTable, rep *pipeline.Report) *pipeline.Report {
	rep.Tickers = cfg.Data.Tickers
	rep.Start, rep.End = cfg.StartDate(), cfg.EndDate()
	rep.Target, rep.Horizon = cfg.Forecast.Target, cfg.Forecast.Horizon
	rep.Rows = ct.Rows()
	return rep
}
