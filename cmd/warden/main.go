package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clawdhub/skillguard/automod/blobstore"
	"github.com/clawdhub/skillguard/automod/cachestore"
	"github.com/clawdhub/skillguard/automod/countstore"
	"github.com/clawdhub/skillguard/automod/engine"
	"github.com/clawdhub/skillguard/automod/gate"
	"github.com/clawdhub/skillguard/automod/llm"
	"github.com/clawdhub/skillguard/automod/quality"
	"github.com/clawdhub/skillguard/automod/reputation"
	"github.com/clawdhub/skillguard/automod/scanner"
	"github.com/clawdhub/skillguard/automod/store"
	"github.com/clawdhub/skillguard/pkg/metrics"
	"github.com/clawdhub/skillguard/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"
	"gorm.io/plugin/opentelemetry/tracing"
)

const reputationCacheTTL = 2 * time.Minute

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "warden",
		Usage:   "skill trust and moderation daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"WARDEN_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://data/warden/warden.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   40,
		},
		&cli.BoolFlag{
			Name:    "enable-db-tracing",
			EnvVars: []string{"WARDEN_ENABLE_DB_TRACING"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL for counters and caches; in-process if not set",
			EnvVars: []string{"WARDEN_REDIS_URL", "REDIS_URL"},
		},
		&cli.StringSliceFlag{
			Name:    "memcached",
			Usage:   "memcached servers for the reputation cache; takes precedence over redis for caching",
			EnvVars: []string{"WARDEN_MEMCACHED"},
		},
		&cli.UintFlag{
			Name:    "automod-actor-id",
			Usage:   "user ID that automod reports are attributed to",
			EnvVars: []string{"AUTOMOD_ACTOR_USER_ID"},
		},
		&cli.IntFlag{
			Name:    "automod-batch-size",
			Value:   engine.DefaultBatchSize,
			EnvVars: []string{"AUTOMOD_BATCH_SIZE"},
		},
		&cli.IntFlag{
			Name:    "automod-max-batches",
			Value:   engine.DefaultMaxBatches,
			EnvVars: []string{"AUTOMOD_MAX_BATCHES"},
		},
		&cli.StringFlag{
			Name:    "openai-api-key",
			Usage:   "enables the LLM fallback classifier",
			EnvVars: []string{"OPENAI_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "openai-model",
			Value:   llm.DefaultModel,
			EnvVars: []string{"OPENAI_MODEL"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "full URL of slack webhook for automod report notifications",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "site-url",
			Usage:   "public marketplace URL, used to link skills in notifications",
			Value:   "https://clawdhub.com",
			EnvVars: []string{"SITE_URL"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		automodOnceCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3990",
			EnvVars: []string{"WARDEN_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3991",
			EnvVars: []string{"WARDEN_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "admin-token",
			Usage:   "bearer token for admin endpoints; admin endpoints are disabled if not set",
			EnvVars: []string{"WARDEN_ADMIN_TOKEN"},
		},
		&cli.DurationFlag{
			Name:    "automod-interval",
			Usage:   "time between scheduled automod sweeps; zero disables them",
			Value:   5 * time.Minute,
			EnvVars: []string{"AUTOMOD_INTERVAL"},
		},
		&cli.StringFlag{
			Name:    "scanner-host",
			Usage:   "base URL of the security scanner; publish checks fail closed if not set",
			EnvVars: []string{"SCANNER_HOST"},
		},
		&cli.DurationFlag{
			Name:    "similarity-window",
			Value:   countstore.DefaultHorizon,
			EnvVars: []string{"SIMILARITY_WINDOW"},
		},
		&cli.StringFlag{
			Name:    "virustotal-api-key",
			EnvVars: []string{"VT_API_KEY"},
		},
		&cli.DurationFlag{
			Name:    "reputation-submit-interval",
			Usage:   "time between bundle submissions for unhashed versions; zero disables them",
			Value:   time.Minute,
			EnvVars: []string{"REPUTATION_SUBMIT_INTERVAL"},
		},
		&cli.IntFlag{
			Name:    "reputation-submit-batch",
			Usage:   "versions bundled per submission tick",
			Value:   4,
			EnvVars: []string{"REPUTATION_SUBMIT_BATCH"},
		},
		&cli.StringFlag{
			Name:    "bundle-source-url",
			Usage:   "source URL recorded in submitted bundles",
			Value:   reputation.DefaultBundleSource,
			EnvVars: []string{"BUNDLE_SOURCE_URL"},
		},
		&cli.StringFlag{
			Name:    "s3-endpoint",
			EnvVars: []string{"S3_ENDPOINT"},
		},
		&cli.StringFlag{
			Name:    "s3-region",
			Value:   "us-east-1",
			EnvVars: []string{"S3_REGION"},
		},
		&cli.StringFlag{
			Name:    "s3-bucket",
			Usage:   "bucket holding skill files; required for security scans",
			EnvVars: []string{"S3_BUCKET"},
		},
		&cli.StringFlag{
			Name:    "s3-access-key",
			EnvVars: []string{"S3_ACCESS_KEY"},
		},
		&cli.StringFlag{
			Name:    "s3-secret-key",
			EnvVars: []string{"S3_SECRET_KEY"},
		},
		&cli.BoolFlag{
			Name:    "s3-path-style",
			EnvVars: []string{"S3_PATH_STYLE"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger, err := setupLogger(cctx)
		if err != nil {
			return err
		}

		shutdownOTEL, err := configOTEL(ctx, "warden")
		if err != nil {
			return err
		}
		defer shutdownOTEL()

		st, err := setupStore(cctx)
		if err != nil {
			return err
		}

		rdb, err := setupRedis(ctx, cctx.String("redis-url"))
		if err != nil {
			return err
		}

		var counts countstore.CountStore
		var memCounts *countstore.MemCountStore
		var cache cachestore.CacheStore
		window := cctx.Duration("similarity-window")
		if rdb != nil {
			counts = &countstore.RedisCountStore{Client: rdb, Horizon: window}
			cache = cachestore.NewRedisCacheStoreFromClient(rdb, reputationCacheTTL)
		} else {
			mc := countstore.NewMemCountStore(window)
			counts, memCounts = mc, &mc
			cache = cachestore.NewMemCacheStore(10_000, reputationCacheTTL)
		}
		if servers := cctx.StringSlice("memcached"); len(servers) > 0 {
			cache = cachestore.NewMemcachedCacheStore(servers, reputationCacheTTL)
		}

		var blobs blobstore.BlobStore
		var submitter *reputation.Submitter
		if bucket := cctx.String("s3-bucket"); bucket != "" {
			blobs, err = blobstore.NewS3BlobStore(ctx, blobstore.S3Config{
				Endpoint:       cctx.String("s3-endpoint"),
				Region:         cctx.String("s3-region"),
				AccessKey:      cctx.String("s3-access-key"),
				SecretKey:      cctx.String("s3-secret-key"),
				Bucket:         bucket,
				ForcePathStyle: cctx.Bool("s3-path-style"),
			})
			if err != nil {
				return err
			}
		} else {
			logger.Warn("no skill file storage configured, security scans will block all submissions")
			blobs = blobstore.NewMemBlobStore()
		}

		var sc gate.Scanner
		if host := cctx.String("scanner-host"); host != "" {
			scl := scanner.NewClient(host, blobs)
			scl.Logger = logger.With("component", "scanner")
			if !scl.Health(ctx) {
				logger.Warn("security scanner not healthy at startup", "host", host)
			}
			sc = scl
		} else {
			logger.Warn("no security scanner configured, publish checks will fail closed")
		}

		var rep *reputation.Client
		if key := cctx.String("virustotal-api-key"); key != "" {
			rep = reputation.NewClient(key, cache)
			rep.Logger = logger.With("component", "reputation")
		}

		// bundles built from an empty store would hash to metadata alone
		if cctx.String("s3-bucket") != "" {
			submitter = reputation.NewSubmitter(rep, st, blobs, logger)
			submitter.Source = cctx.String("bundle-source-url")
		}

		eng := setupEngine(cctx, st, logger)
		automodCfg := engine.Config{
			BatchSize:  cctx.Int("automod-batch-size"),
			MaxBatches: cctx.Int("automod-max-batches"),
		}

		srv, err := NewServer(Config{
			Logger:     logger,
			Bind:       cctx.String("bind"),
			AdminToken: cctx.String("admin-token"),
			Store:      st,
			Engine:     eng,
			Gate:       gate.NewGate(quality.NewSimilarityIndex(counts, window), sc, blobs, logger),
			Reputation: rep,
			Submitter:  submitter,
			Automod:    automodCfg,
		})
		if err != nil {
			return err
		}

		eg, ectx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			return metrics.RunServer(ectx, cctx.String("metrics-listen"))
		})
		eg.Go(func() error {
			return srv.RunAPI(ectx)
		})
		if memCounts != nil {
			eg.Go(func() error {
				return runCountPruneLoop(ectx, *memCounts, time.Hour, logger.With("component", "count-prune"))
			})
		}
		if submitter != nil {
			eg.Go(func() error {
				return runReputationSubmitLoop(ectx, submitter, st, cctx.Duration("reputation-submit-interval"), cctx.Int("reputation-submit-batch"), logger.With("component", "reputation-submit-loop"))
			})
		}
		if eng.ActorID != 0 {
			eg.Go(func() error {
				return runAutomodLoop(ectx, eng, automodCfg, cctx.Duration("automod-interval"), logger.With("component", "automod-loop"))
			})
		} else {
			logger.Warn("automod actor not configured, scheduled sweeps disabled")
		}

		if err := eg.Wait(); err != nil {
			return fmt.Errorf("failed to run warden service: %w", err)
		}
		logger.Info("graceful shutdown complete")
		return nil
	},
}

var automodOnceCmd = &cli.Command{
	Name:  "automod-once",
	Usage: "run a single automod sweep and print the result as JSON",
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger, err := setupLogger(cctx)
		if err != nil {
			return err
		}
		st, err := setupStore(cctx)
		if err != nil {
			return err
		}

		eng := setupEngine(cctx, st, logger)
		res, err := eng.Run(ctx, engine.Config{
			BatchSize:  cctx.Int("automod-batch-size"),
			MaxBatches: cctx.Int("automod-max-batches"),
		})
		if res != nil {
			b, merr := json.MarshalIndent(res, "", "  ")
			if merr != nil {
				return merr
			}
			fmt.Println(string(b))
		}
		return err
	},
}

func setupLogger(cctx *cli.Context) (*slog.Logger, error) {
	logger, err := cliutil.SetupSlog(cliutil.LogOptions{
		LogLevel: cctx.String("log-level"),
		Out:      os.Stderr,
	})
	if err != nil {
		return nil, err
	}
	return logger.With("service", "warden"), nil
}

func setupStore(cctx *cli.Context) (*store.GormStore, error) {
	db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
	if err != nil {
		return nil, err
	}
	if cctx.Bool("enable-db-tracing") {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, err
		}
	}
	st := store.NewGormStore(db)
	if err := st.Migrate(); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return st, nil
}

func setupRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func setupEngine(cctx *cli.Context, st *store.GormStore, logger *slog.Logger) *engine.Engine {
	eng := &engine.Engine{
		Logger:  logger.With("component", "automod"),
		Store:   st,
		Cursors: st,
		ActorID: cctx.Uint("automod-actor-id"),
	}
	if key := cctx.String("openai-api-key"); key != "" {
		cl := llm.NewOpenAIClassifier(key, cctx.String("openai-model"))
		cl.Logger = logger.With("component", "llm")
		eng.Classifier = cl
	}
	if hook := cctx.String("slack-webhook-url"); hook != "" {
		eng.Notifier = engine.NewSlackNotifier(hook, cctx.String("site-url"))
	}
	return eng
}
