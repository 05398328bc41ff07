package cmd

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Laisky/lellostore/internal/apk"
	"github.com/Laisky/lellostore/internal/auth"
	"github.com/Laisky/lellostore/internal/catalog"
	"github.com/Laisky/lellostore/internal/storage"
	"github.com/Laisky/lellostore/internal/upload"
	"github.com/Laisky/lellostore/internal/web"
	"github.com/Laisky/lellostore/library/config"
	"github.com/Laisky/lellostore/library/db/redis"
	"github.com/Laisky/lellostore/library/db/sqldb"
	"github.com/Laisky/lellostore/library/log"
)

const (
	defaultDatabaseURL   = "sqlite:data/lellostore.db"
	defaultStoragePath   = "data/storage"
	metricsRefreshPeriod = 60 * time.Second
)

var apiCMD = &cobra.Command{
	Use:   "api",
	Short: "api",
	Long:  `serve the catalog REST API and the metrics endpoint`,
	Args:  gcmd.NoExtraArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if err := initialize(ctx, cmd); err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := runAPI(ctx); err != nil {
			log.Logger.Panic("run api", zap.Error(err))
		}
	},
}

func init() {
	rootCMD.AddCommand(apiCMD)
}

// runAPI builds every component and serves until ctx is done.
func runAPI(ctx context.Context) error {
	logger := log.Logger.Named("api")

	db, err := openCatalogDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close() // nolint: errcheck

	store, closeCache, err := newCatalogStore(ctx, db, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	files, err := newFileStore(logger)
	if err != nil {
		return err
	}

	uploads, err := newUploadService(files, store, logger)
	if err != nil {
		return err
	}

	handlers, err := web.NewHandlers(store, files, uploads)
	if err != nil {
		return errors.Wrap(err, "new handlers")
	}

	metrics := web.NewMetrics()
	opts := []web.ServerOption{
		web.WithMetrics(metrics),
		web.WithLogger(log.Logger.Named("gin")),
	}

	authCfg := auth.LoadConfigFromConfig()
	if authCfg.Enabled {
		provider, err := auth.NewProvider(ctx, authCfg, auth.WithLogger(log.Logger.Named("auth")))
		if err != nil {
			return errors.Wrap(err, "initialize oidc provider")
		}
		opts = append(opts, web.WithTokenVerifier(provider.Validator()))
		logger.Info("oidc authentication enabled",
			zap.String("issuer", authCfg.IssuerURL),
			zap.String("audience", authCfg.Audience),
			zap.String("admin_role", authCfg.AdminRole))
	} else {
		logger.Warn("authentication is disabled, do not expose this server publicly")
	}

	settings := web.LoadSettingsFromConfig()
	if settings.FrontendDistDir != "" {
		frontend, err := web.NewFrontendHandler(settings.FrontendDistDir, log.Logger.Named("frontend"))
		if err != nil {
			logger.Warn("frontend disabled", zap.Error(err))
		} else {
			opts = append(opts, web.WithFrontend(frontend))
		}
	}
	router := web.NewRouter(handlers, opts...)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return web.Serve(egCtx, "api", settings.Listen, router, settings, logger)
	})
	eg.Go(func() error {
		return web.Serve(egCtx, "metrics", settings.MetricsListen, metricsMux, settings, logger)
	})
	eg.Go(func() error {
		metrics.RunUpdater(egCtx, metricsRefreshPeriod, web.MetricsSources{
			Catalog: store,
			Files:   files,
			DBPath:  db.Path,
		}, logger)
		return nil
	})

	return eg.Wait()
}

func openCatalogDB(ctx context.Context) (*sqldb.DB, error) {
	db, err := sqldb.Open(ctx, config.String("settings.db.url", defaultDatabaseURL))
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err = catalog.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate database")
	}

	log.Logger.Info("catalog database ready", zap.String("dialect", string(db.Dialect)))
	return db, nil
}

// newCatalogStore wraps the repository with the redis list cache when
// settings.db.redis.addr is set.
func newCatalogStore(ctx context.Context, db *sqldb.DB, logger logSDK.Logger) (catalog.Store, func(), error) {
	repo, err := catalog.NewRepository(db.DB)
	if err != nil {
		return nil, nil, errors.Wrap(err, "new catalog repository")
	}

	addr := config.String("settings.db.redis.addr", "")
	if addr == "" {
		return repo, func() {}, nil
	}

	rdb := redis.NewDB(&goredis.Options{
		Addr:     addr,
		Password: gconfig.Shared.GetString("settings.db.redis.pwd"),
		DB:       config.Int("settings.db.redis.db", 0),
	})
	if err = rdb.Ping(ctx); err != nil {
		logger.Warn("redis unreachable, catalog cache will fall through", zap.String("addr", addr), zap.Error(err))
	}

	ttl := time.Duration(config.Int64("settings.db.redis.ttl_seconds", 60)) * time.Second
	cached, err := catalog.NewCachedStore(repo, rdb, ttl, log.Logger.Named("catalog_cache"))
	if err != nil {
		_ = rdb.Close()
		return nil, nil, errors.Wrap(err, "new cached catalog")
	}

	logger.Info("catalog list cache enabled", zap.String("addr", addr), zap.Duration("ttl", ttl))
	return cached, func() { _ = rdb.Close() }, nil
}

// newFileStore opens the storage root and attaches the S3 mirror when a
// bucket is configured.
func newFileStore(logger logSDK.Logger) (*storage.Manager, error) {
	opts := []storage.Option{storage.WithLogger(log.Logger.Named("storage"))}

	if endpoint := config.String("settings.storage.s3.endpoint", ""); endpoint != "" {
		mirror, err := storage.NewS3Mirror(storage.S3MirrorConfig{
			Endpoint:  endpoint,
			Bucket:    config.String("settings.storage.s3.bucket", ""),
			AccessKey: config.String("settings.storage.s3.access_key", ""),
			SecretKey: config.String("settings.storage.s3.secret_key", ""),
			UseSSL:    config.Bool("settings.storage.s3.use_ssl", true),
			Prefix:    config.String("settings.storage.s3.prefix", ""),
		})
		if err != nil {
			return nil, errors.Wrap(err, "new s3 mirror")
		}
		opts = append(opts, storage.WithMirror(mirror))
		logger.Info("s3 mirror enabled", zap.String("endpoint", endpoint))
	}

	root := config.String("settings.storage.path", defaultStoragePath)
	files, err := storage.New(root, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "open storage %q", root)
	}
	return files, nil
}

// newUploadService requires aapt2. bundletool is optional, without it AAB
// uploads are rejected.
func newUploadService(files *storage.Manager, store catalog.Store, logger logSDK.Logger) (*upload.Service, error) {
	aapt2, err := apk.LocateAapt2(config.String("settings.tools.aapt2_path", ""))
	if err != nil {
		return nil, errors.Wrap(err, "locate aapt2")
	}
	logger.Info("using aapt2", zap.String("path", aapt2))

	opts := []upload.Option{upload.WithLogger(log.Logger.Named("upload"))}

	bundles, err := apk.NewBundletool(
		config.String("settings.tools.java_path", "java"),
		config.String("settings.tools.bundletool_path", ""),
		log.Logger.Named("bundletool"))
	if err != nil {
		logger.Warn("AAB uploads disabled", zap.Error(err))
	} else {
		opts = append(opts, upload.WithBundleConverter(bundles))
	}

	svc, err := upload.NewService(upload.LoadSettingsFromConfig(), files, store,
		apk.NewAapt2(aapt2, log.Logger.Named("aapt2")), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "new upload service")
	}
	return svc, nil
}
