// Package app wires the timeline engine together from its config. Both
// binaries build their dependencies through it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/xiaobinji/RSSHub/internal/cache"
	"github.com/xiaobinji/RSSHub/internal/identity"
	"github.com/xiaobinji/RSSHub/internal/migrations"
	"github.com/xiaobinji/RSSHub/internal/paginate"
	"github.com/xiaobinji/RSSHub/internal/timeline"
	"github.com/xiaobinji/RSSHub/internal/twitterapi"
)

// Config is read from the environment with go-envconfig.
type Config struct {
	Port int `env:"PORT, default=1200"`
	// Empty keeps the cache in memory. A postgres:// url uses postgres,
	// anything else is a sqlite file path.
	Database string `env:"DATABASE"`

	// Which format to use for logging: text, json or console
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
	LogLevel     string `env:"LOG_LEVEL, default=info"`

	CacheMaxEntries     int           `env:"CACHE_MAX_ENTRIES, default=4096"`
	CacheContentExpire  time.Duration `env:"CACHE_CONTENT_EXPIRE, default=1h"`
	CacheRouteExpire    time.Duration `env:"CACHE_ROUTE_EXPIRE, default=5m"`
	CachePurgeInterval  time.Duration `env:"CACHE_PURGE_INTERVAL, default=10m"`
	CacheFlightTimeout  time.Duration `env:"CACHE_FLIGHT_TIMEOUT, default=30s"`
	RequestTimeout      time.Duration `env:"REQUEST_TIMEOUT, default=30s"`
	TimelinePageSize    int           `env:"TIMELINE_PAGE_SIZE, default=20"`
	TimelineMaxPages    int           `env:"TIMELINE_MAX_PAGES, default=1"`
	TimelineConcurrency int           `env:"TIMELINE_CONCURRENCY, default=0"`

	Twitter twitterapi.Config `env:", prefix=TWITTER_"`
}

// App holds the constructed services.
type App struct {
	Cache     *cache.Cache
	Resolver  *identity.Resolver
	Timelines *timeline.Service
	Client    *twitterapi.Client

	db *sqlx.DB
}

// New opens the cache store, migrating it if it is a database, and builds
// everything on top of it.
func New(cfg Config) (*App, error) {
	store, db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	c := cache.New(store, cache.WithFlightTimeout(cfg.CacheFlightTimeout))
	client := twitterapi.NewClient(cfg.Twitter)
	resolver := identity.NewResolver(client, c, cfg.CacheContentExpire)

	sources := timeline.Sources{
		Tweets:  client.UserTweets(),
		Media:   client.UserMedia(),
		Replies: client.UserTweetsAndReplies(),
		Likes:   client.Likes(),
		Detail:  client.TweetDetail(),
		Search:  client.Search(),
		List:    client.ListTweets(),
	}
	if client.Authenticated() {
		sources.Home = client.HomeTimeline()
		sources.HomeLatest = client.HomeLatestTimeline()
	}

	svc := timeline.NewService(timeline.Config{
		RouteTTL:       cfg.CacheRouteExpire,
		PageSize:       cfg.TimelinePageSize,
		MaxConcurrency: cfg.TimelineConcurrency,
	}, c, resolver, paginate.Walker{MaxPages: cfg.TimelineMaxPages}, sources)

	return &App{
		Cache:     c,
		Resolver:  resolver,
		Timelines: svc,
		Client:    client,
		db:        db,
	}, nil
}

// Close releases the database, if any.
func (a *App) Close() error {
	if a.db == nil {
		return nil
	}

	return a.db.Close()
}

// RunJanitor purges expired cache entries every interval until ctx ends.
func (a *App) RunJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		n, err := a.Cache.PurgeExpired(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "error purging cache", "error", err)
			continue
		}
		if n > 0 {
			slog.InfoContext(ctx, "purged expired cache entries", "count", n)
		}
	}
}

func openStore(cfg Config) (cache.Store, *sqlx.DB, error) {
	var (
		dbx *sqlx.DB
		err error
	)
	switch dsn := cfg.Database; {
	case dsn == "":
		store, err := cache.NewMemoryStore(cfg.CacheMaxEntries)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using in-memory cache", "max_entries", cfg.CacheMaxEntries)
		return store, nil, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dbx, err = sqlx.Open("postgres", dsn)
	default:
		dbx, err = sqlx.Open("sqlite", fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dsn))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("error opening database: %s", err)
	}

	// Migrate, always
	if err := migrations.Run(dbx); err != nil {
		dbx.Close()
		return nil, nil, fmt.Errorf("error migrating: %s", err)
	}

	return cache.NewSQLStore(dbx), dbx, nil
}
