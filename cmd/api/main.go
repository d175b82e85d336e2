package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bookhive/bookhive/pkg/config"
	"github.com/bookhive/bookhive/pkg/database"
	"github.com/bookhive/bookhive/pkg/kvstore"
	"github.com/bookhive/bookhive/pkg/migrations"
	"github.com/bookhive/bookhive/pkg/search"
	"github.com/bookhive/bookhive/pkg/server"
	"github.com/bookhive/bookhive/pkg/tasks"
	"github.com/bookhive/bookhive/pkg/telemetry"
	"github.com/bookhive/bookhive/pkg/version"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
)

const kvGCInterval = 10 * time.Minute

func main() {
	ctx := context.Background()
	log := logger.New()

	log.Info("starting bookhive", logger.Data{"version": version.Version})

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg)
	if err != nil {
		log.Err(err).Fatal("telemetry error")
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}

	group, err := migrations.BringUpToDate(ctx, db)
	if err != nil {
		log.Err(err).Fatal("migrations error")
	}
	if group.ID == 0 {
		log.Info("no new migrations to run")
	} else {
		log.Info("migrated to new group", logger.Data{"group_id": group.ID, "migration_names": group.Migrations.String()})
	}

	kv, err := kvstore.Open(cfg.KVDirectory)
	if err != nil {
		log.Err(err).Fatal("kv store error")
	}

	index, err := search.Open(cfg.SearchIndexDirectory)
	if err != nil {
		log.Err(err).Fatal("search index error")
	}

	pool := tasks.NewPool(cfg.TaskConcurrency)

	app, err := server.New(cfg, server.Infra{DB: db, KV: kv, Index: index, Pool: pool})
	if err != nil {
		log.Err(err).Fatal("server error")
	}

	// A fresh index directory starts empty even when the catalog isn't.
	if count, err := index.DocCount(); err == nil && count == 0 {
		pool.Submit("reindex", func(ctx context.Context) error {
			n, err := app.Search.Reindex(ctx)
			if err != nil {
				return err
			}
			logger.FromContext(ctx).Info("search index rebuilt", logger.Data{"books": n})
			return nil
		})
	}

	graceful := signals.Setup()
	bgCtx, cancelBackground := context.WithCancel(log.WithContext(ctx))
	var background sync.WaitGroup

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
		lc := net.ListenConfig{}
		listener, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			log.Err(err).Fatal("failed to bind port")
		}
		log.Info("server started", logger.Data{"addr": listener.Addr().String()})

		err = app.HTTP.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Fatal("server stopped")
		}
		log.Info("server stopped")
	}()

	app.Worker.Start()
	log.Info("worker started")

	if app.Firehose != nil {
		background.Add(1)
		go func() {
			defer background.Done()
			if err := app.Firehose.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Err(err).Error("firehose stopped")
			}
		}()
		log.Info("firehose started", logger.Data{"endpoint": cfg.JetstreamURL})
	}

	background.Add(1)
	go func() {
		defer background.Done()
		ticker := time.NewTicker(kvGCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-bgCtx.Done():
				return
			case <-ticker.C:
				kv.RunGC()
			}
		}
	}()

	<-graceful
	log.Info("starting graceful shutdown")

	err = app.HTTP.Shutdown(ctx)
	if err != nil {
		log.Err(err).Error("server shutdown error")
	}
	log.Info("server shutdown")

	cancelBackground()
	background.Wait()
	log.Info("firehose shutdown")

	app.Worker.Shutdown()
	log.Info("worker shutdown")

	pool.Shutdown()
	app.Close()
	log.Info("tasks shutdown")

	if err := index.Close(); err != nil {
		log.Err(err).Error("search index close error")
	}
	if err := kv.Close(); err != nil {
		log.Err(err).Error("kv store close error")
	}

	err = db.Close()
	if err != nil {
		log.Err(err).Error("database close error")
	}
	log.Info("database closed")

	if err := shutdownTelemetry(ctx); err != nil {
		log.Err(err).Error("telemetry shutdown error")
	}
}
