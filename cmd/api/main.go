package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"outdial-platform/internal/auth"
	"outdial-platform/internal/cache"
	"outdial-platform/internal/calls"
	"outdial-platform/internal/campaigns"
	"outdial-platform/internal/config"
	"outdial-platform/internal/contacts"
	"outdial-platform/internal/dialer"
	"outdial-platform/internal/httpapi"
	"outdial-platform/internal/metrics"
	"outdial-platform/internal/notify"
	"outdial-platform/internal/telephony"
	"outdial-platform/pkg/logger"
	"outdial-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown.
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional env file for local runs; env vars always win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	m := metrics.New()

	hub := notify.NewHub(log)
	var notifier notify.Notifier = hub
	if cfg.AMQP.URL != "" {
		pub, err := notify.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.QueuePrefix)
		if err != nil {
			log.Error("amqp init failed", "err", err)
			os.Exit(1)
		}
		defer pub.Close()
		notifier = notify.Multi{hub, pub}
	}

	callRepo := calls.NewPostgresRepo(db)
	contactRepo := contacts.NewPostgresRepo(db)
	campaignRepo := campaigns.NewPostgresRepo(db)

	campaignSvc := campaigns.NewService(campaignRepo, contactRepo, notifier)

	dispatcher, err := telephony.NewTwilioDispatcher(telephony.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		BaseURL:    cfg.Twilio.BaseURL,
	})
	if err != nil {
		log.Error("twilio init failed", "err", err)
		os.Exit(1)
	}

	slots := dialer.NewRedisSlots(rdb, cfg.Dialer.SlotTTL)

	// The tracker wakes the campaign loop when a slot frees; the runner does
	// not exist yet, so route the wake through a late-bound reference.
	var runner *dialer.Runner
	tracker := dialer.NewTracker(dialer.TrackerOptions{
		Calls:     callRepo,
		Contacts:  contactRepo,
		Campaigns: campaignRepo,
		Agg:       dialer.NewAggregator(campaignRepo, notifier, m),
		Slots:     slots,
		Notifier:  notifier,
		Metrics:   m,
		Log:       log,
		OnSlotRelease: func(campaignID string) {
			if runner != nil {
				runner.Wake(campaignID)
			}
		},
	})

	scheduler := dialer.NewScheduler(dialer.SchedulerOptions{
		Campaigns:   campaignRepo,
		Contacts:    contactRepo,
		Calls:       callRepo,
		Dispatcher:  dispatcher,
		Slots:       slots,
		Tracker:     tracker,
		Notifier:    notifier,
		Metrics:     m,
		Log:         log,
		CallbackURL: cfg.StatusCallbackURL(),
		AnswerURL:   cfg.AnswerURL(),
	})
	runner = dialer.NewRunner(campaignRepo, scheduler, log, cfg.Dialer.DiscoverInterval, cfg.Dialer.TickInterval)
	sweeper := dialer.NewSweeper(callRepo, tracker, m, log, cfg.Dialer.SweepInterval, cfg.Dialer.StuckCallMaxAge)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); runner.Run(rootCtx) }()
	go func() { defer wg.Done(); sweeper.Run(rootCtx) }()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		AuthMW: auth.RequireAccessToken(authManager),
		API: httpapi.Handlers{
			Auth:      authManager,
			Campaigns: campaignSvc,
			Calls:     callRepo,
			Cache:     cache.NewGoCache(time.Minute),
			Hub:       hub,
		},
		Webhook: telephony.WebhookHandler{Tracker: tracker},
		Answer: telephony.AnswerHandler{
			StreamURL: cfg.Dialer.VoiceStreamURL,
			ShouldBridge: func(c *gin.Context, callSid string) (bool, error) {
				if cfg.Dialer.VoiceStreamURL == "" {
					return false, nil
				}
				call, ok, err := callRepo.Get(c.Request.Context(), callSid)
				if err != nil {
					return false, err
				}
				return ok && !call.Status.IsTerminal(), nil
			},
		},
		Metrics: m,
		DB:      db,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	// Dispatch loops drain before connections close underneath them.
	wg.Wait()
	hub.Close()
}
