package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bookhive/bookhive/pkg/atproto"
	"github.com/bookhive/bookhive/pkg/auth"
	"github.com/bookhive/bookhive/pkg/binder"
	"github.com/bookhive/bookhive/pkg/books"
	"github.com/bookhive/bookhive/pkg/buzzes"
	"github.com/bookhive/bookhive/pkg/catalog"
	"github.com/bookhive/bookhive/pkg/config"
	"github.com/bookhive/bookhive/pkg/enrichment"
	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/export"
	"github.com/bookhive/bookhive/pkg/firehose"
	"github.com/bookhive/bookhive/pkg/follows"
	"github.com/bookhive/bookhive/pkg/genres"
	"github.com/bookhive/bookhive/pkg/goodreads"
	"github.com/bookhive/bookhive/pkg/importer"
	"github.com/bookhive/bookhive/pkg/joblogs"
	"github.com/bookhive/bookhive/pkg/jobs"
	"github.com/bookhive/bookhive/pkg/kvstore"
	"github.com/bookhive/bookhive/pkg/locks"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/bookhive/bookhive/pkg/oauth"
	"github.com/bookhive/bookhive/pkg/pages"
	"github.com/bookhive/bookhive/pkg/profiles"
	"github.com/bookhive/bookhive/pkg/ratelimit"
	"github.com/bookhive/bookhive/pkg/search"
	"github.com/bookhive/bookhive/pkg/tasks"
	"github.com/bookhive/bookhive/pkg/telemetry"
	"github.com/bookhive/bookhive/pkg/userbooks"
	"github.com/bookhive/bookhive/pkg/worker"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/health"
	golibmw "github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/echo/v4/middleware/recovery"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
)

// Infra is the process-wide state everything else is built on. The caller
// owns it and closes it after the App has shut down.
type Infra struct {
	DB    *bun.DB
	KV    *kvstore.Store
	Index *search.Index
	Pool  *tasks.Pool
}

// App is a fully wired BookHive process: the HTTP server plus the background
// pieces that share its services.
type App struct {
	HTTP     *http.Server
	Worker   *worker.Worker
	Firehose *firehose.Consumer
	Search   *search.Service

	loginLimiter *ratelimit.KeyedRateLimiter
}

// Close releases what New started outside of the HTTP server.
func (a *App) Close() {
	if a.loginLimiter != nil {
		a.loginLimiter.Stop()
	}
}

func New(cfg *config.Config, infra Infra) (*App, error) {
	db := infra.DB

	// Outbound clients.
	httpClient := &http.Client{Timeout: 15 * time.Second}
	resolver := atproto.NewResolver(httpClient, cfg.PLCDirectoryURL)
	appView := atproto.NewAppView(cfg.PublicAppViewURL)
	oauthClient := oauth.NewClient(cfg, httpClient, resolver, infra.KV)
	goodreadsClient, err := goodreads.NewClient(cfg)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	// Services.
	searchService := search.NewService(db, infra.Index)
	catalogService := catalog.NewService(db)
	enrichmentService := enrichment.NewService(cfg, catalogService, goodreadsClient, infra.Index, infra.Pool)
	userBookService := userbooks.NewService(db, catalogService, locks.NewLocker(infra.KV, cfg.BookLockTTL), oauthClient, enrichmentService)
	buzzService := buzzes.NewService(db, oauthClient)
	followService := follows.NewService(db, appView, oauthClient)
	bookService := books.NewService(catalogService, searchService, goodreadsClient, infra.Pool, enrichmentService, userBookService, buzzService)
	genreService := genres.NewService(db, catalogService)
	profileService := profiles.NewService(profiles.NewCache(infra.KV, appView, cfg.ProfileCacheTTL), userBookService, followService)
	jobService := jobs.NewService(db)
	jobLogService := joblogs.NewService(db)
	importService := importer.NewService(jobService, catalogService, userBookService, infra.Index)
	exportService := export.NewService(db, infra.KV)

	authService, err := auth.NewService(cfg)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	authMiddleware := auth.NewMiddleware(authService, oauthClient)

	wrkr := worker.New(cfg, worker.Services{
		Catalog:  catalogService,
		Jobs:     jobService,
		JobLogs:  jobLogService,
		Sessions: oauthClient,
		Importer: importService,
		Enricher: enrichmentService,
		Follows:  followService,
	})

	// HTTP.
	e := echo.New()

	b, err := binder.New()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.Binder = b

	renderer, err := pages.NewRenderer()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.Renderer = renderer

	// HTML forms can only GET and POST.
	e.Pre(middleware.MethodOverrideWithConfig(middleware.MethodOverrideConfig{
		Getter: middleware.MethodFromForm("_method"),
	}))
	e.Use(golibmw.Middleware())
	e.Use(recovery.Middleware())
	e.Use(middleware.CORS())
	e.Use(telemetry.Middleware(otel.GetTracerProvider()))

	health.RegisterRoutes(e)

	postLogin := func(ctx context.Context, sess *models.Session) {
		log := logger.FromContext(ctx)
		if _, err := followService.Sync(ctx, sess.DID); err != nil {
			log.Err(err).Warn("follow sync failed, queueing retry", logger.Data{"did": sess.DID})
			if _, err := worker.QueueFollowSync(ctx, jobService, sess.DID); err != nil {
				log.Err(err).Error("queue follow sync error")
			}
		}
		if _, err := userBookService.SyncLibrary(ctx, sess); err != nil {
			log.Err(err).Warn("library sync failed", logger.Data{"did": sess.DID})
		}
	}
	loginLimiter := auth.RegisterRoutes(e, cfg, authService, oauthClient, authMiddleware, postLogin)

	userbooks.RegisterRoutes(e, userBookService, authMiddleware)
	buzzes.RegisterRoutes(e, buzzService, authMiddleware)
	follows.RegisterRoutes(e, followService, authMiddleware)
	importer.RegisterRoutes(e, importService, authMiddleware)
	export.RegisterRoutes(e, exportService, cfg.AdminExportToken)

	jobsGroup := e.Group("/api/jobs", authMiddleware.Authenticate)
	jobs.RegisterRoutesWithGroup(jobsGroup, jobService)
	joblogs.RegisterRoutes(jobsGroup, jobLogService, jobService)

	xrpc := e.Group("/xrpc", authMiddleware.AuthenticateOptional)
	books.RegisterRoutesWithGroup(xrpc, bookService)
	genres.RegisterRoutesWithGroup(xrpc, genreService)
	profiles.RegisterRoutesWithGroup(xrpc, profileService)

	pages.RegisterRoutes(e, pages.Services{
		Books:     bookService,
		Catalog:   catalogService,
		Genres:    genreService,
		Jobs:      jobService,
		Profiles:  profileService,
		UserBooks: userBookService,
	}, authMiddleware)

	echo.NotFoundHandler = notFoundHandler
	e.HTTPErrorHandler = errcodes.NewHandler(pages.RenderError).Handle

	app := &App{
		HTTP: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
			Handler:           e,
			ReadHeaderTimeout: 3 * time.Second,
		},
		Worker:       wrkr,
		Search:       searchService,
		loginLimiter: loginLimiter,
	}
	if cfg.FirehoseEnabled {
		app.Firehose = firehose.NewConsumer(db, cfg.JetstreamURL, cfg.FirehoseReconnectDelay, userBookService, buzzService)
	}

	return app, nil
}

func notFoundHandler(c echo.Context) error {
	c.SetPath("/:path")
	return errcodes.NotFound("Page")
}
