package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/df-notifier/config"
	"github.com/ErlanBelekov/df-notifier/internal/delivery"
	"github.com/ErlanBelekov/df-notifier/internal/dfapi"
	"github.com/ErlanBelekov/df-notifier/internal/domain"
	"github.com/ErlanBelekov/df-notifier/internal/health"
	httptransport "github.com/ErlanBelekov/df-notifier/internal/http"
	"github.com/ErlanBelekov/df-notifier/internal/http/handler"
	"github.com/ErlanBelekov/df-notifier/internal/infrastructure"
	ctxlog "github.com/ErlanBelekov/df-notifier/internal/log"
	"github.com/ErlanBelekov/df-notifier/internal/metrics"
	"github.com/ErlanBelekov/df-notifier/internal/placetask"
	"github.com/ErlanBelekov/df-notifier/internal/push"
	"github.com/ErlanBelekov/df-notifier/internal/scheduler"
	"github.com/ErlanBelekov/df-notifier/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	st, err := infrastructure.Open(ctx, cfg.StoreDriver, cfg.DatabaseURL, cfg.BoltPath)
	if err != nil {
		stop()
		log.Fatalf("store: %v", err)
	}
	defer st.Close()
	logger.Info("store opened", "driver", cfg.StoreDriver)

	// Remote API
	mode, _ := dfapi.ParseMode(cfg.API.Mode)
	pool := dfapi.NewPool(dfapi.Endpoints{
		Primary: cfg.API.URLPrimary,
		Alt1:    cfg.API.URLAlt1,
		Alt2:    cfg.API.URLAlt2,
	}, mode, logger)
	api := dfapi.NewClient(pool, dfapi.Config{
		APIKey:     cfg.API.Key,
		Timeout:    cfg.API.Timeout(),
		RetryCount: cfg.API.RetryCount,
		RetryDelay: cfg.API.RetryDelay(),
	}, logger)

	// Delivery
	deliverer := delivery.NewRouter(delivery.NewLogDeliverer(logger))
	if cfg.OneBot.URL != "" {
		onebot := delivery.NewOneBot(cfg.OneBot.URL, cfg.OneBot.AccessToken, 10*time.Second, logger)
		deliverer.Handle(domain.DefaultPlatform, onebot)
		deliverer.Handle("onebot", onebot)
	} else {
		logger.Warn("ONEBOT_URL not set, chat messages are only logged")
	}
	if cfg.Resend.APIKey != "" {
		deliverer.Handle(delivery.EmailPlatform, delivery.NewEmail(cfg.Resend.APIKey, cfg.Resend.From))
	}

	// Place tasks
	var (
		engine  *placetask.Engine
		tracker usecase.TaskTracker
		tasks   handler.TaskLister
	)
	if cfg.PlaceTask.Enabled {
		engine = placetask.NewEngine(api, st.Subscriptions, st.Tokens, deliverer, placetask.Config{
			SyncInterval: cfg.PlaceTask.SyncInterval(),
			FireInterval: cfg.PlaceTask.FireInterval(),
			UserDelay:    cfg.PlaceTask.UserDelay(),
		}, logger)
		tracker, tasks = engine, engine
	}

	// Cron jobs
	sched := scheduler.New(cfg.Location(), logger)
	fanout := push.NewFanout(deliverer, cfg.Push.SendInterval(), logger)
	reportCfg := push.ReportJobConfig{UserDelay: cfg.Push.UserInterval(), Location: cfg.Location()}

	var jobs []usecase.CronJob
	if cfg.Push.KeywordEnabled {
		job := push.NewKeywordJob(api, st.Subscriptions, fanout, cfg.Push.KeywordGroups, logger)
		jobs = append(jobs, usecase.CronJob{
			Feature: domain.FeatureDailyKeyword,
			Cron:    cfg.Push.KeywordCron,
			Run:     job.Run,
			Pinned:  len(cfg.Push.KeywordGroups) > 0,
		})
	}
	if cfg.Push.DailyReportEnabled {
		job := push.NewReportJob(push.DailyReport, api, st.Subscriptions, st.Tokens, fanout, reportCfg, logger)
		jobs = append(jobs, usecase.CronJob{Feature: domain.FeatureDailyReport, Cron: cfg.Push.DailyReportCron, Run: job.Run})
	}
	if cfg.Push.WeeklyReportEnabled {
		job := push.NewReportJob(push.WeeklyReport, api, st.Subscriptions, st.Tokens, fanout, reportCfg, logger)
		jobs = append(jobs, usecase.CronJob{Feature: domain.FeatureWeeklyReport, Cron: cfg.Push.WeeklyReportCron, Run: job.Run})
	}

	pushUsecase := usecase.NewPushUsecase(st.Subscriptions, st.Tokens, sched, tracker, jobs, logger)
	if err := pushUsecase.RegisterJobs(ctx); err != nil {
		stop()
		log.Fatalf("register jobs: %v", err)
	}
	broadcaster := push.NewBroadcaster(cfg.Push.BroadcastAdmins, cfg.Push.BroadcastDefaultGroups, st.Broadcasts, fanout, logger)

	// Observability
	metrics.Register()
	checker := health.NewChecker(logger, prometheus.DefaultRegisterer,
		health.Dependency{Name: "store", Pinger: st.Pinger, Critical: true},
		health.Dependency{Name: "remote_api", Pinger: health.PingFunc(api.Health)},
	)

	router := httptransport.NewRouter(logger,
		handler.NewPushHandler(pushUsecase, logger),
		handler.NewStatusHandler(sched, tasks, pool, logger),
		handler.NewBroadcastHandler(broadcaster, logger),
		[]byte(cfg.JWTSecret),
	)
	srv := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	sched.Start(ctx)

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if engine != nil {
			engine.Run(ctx)
		}
	}()

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := sched.Shutdown(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown", "error", err)
	}
	select {
	case <-engineDone:
	case <-shutdownCtx.Done():
		logger.Error("place task engine did not stop in time")
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
