package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot"
	"github.com/smith3v/family-reminders/pkg/actions"
	"github.com/smith3v/family-reminders/pkg/bot/handlers"
	"github.com/smith3v/family-reminders/pkg/channels/email"
	"github.com/smith3v/family-reminders/pkg/channels/telegram"
	"github.com/smith3v/family-reminders/pkg/config"
	"github.com/smith3v/family-reminders/pkg/db"
	"github.com/smith3v/family-reminders/pkg/httpapi"
	"github.com/smith3v/family-reminders/pkg/logger"
	"github.com/smith3v/family-reminders/pkg/notify"
	"github.com/smith3v/family-reminders/pkg/queue"
	"github.com/smith3v/family-reminders/pkg/schedule"
	"github.com/smith3v/family-reminders/pkg/store"
	"github.com/smith3v/family-reminders/pkg/sweep"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := logger.Configure(logger.Options{
		Level: config.AppConfig.Logging.Level,
		File:  config.AppConfig.Logging.File,
	}); err != nil {
		logger.Error("failed to configure logger", "error", err)
	}

	if err := db.InitDB(config.AppConfig.Database); err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, config.AppConfig); err != nil {
		logger.Error("reminder engine stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	sc := cfg.Scheduler

	st := store.New(db.DB, time.Now)
	q := queue.New(db.DB, queue.Options{
		PollInterval: sc.PollInterval.Duration,
		Workers:      sc.Workers,
		Attempts:     sc.JobAttempts,
		RetryBackoff: sc.RetryBackoff.Duration,
		LockTimeout:  sc.LockTimeout.Duration,
	})
	alertJobs := schedule.NewAlertJobs(q)
	st.SetCanceller(alertJobs)
	scheduler := schedule.NewScheduler(st, alertJobs, nil, schedule.Options{
		Horizon:   sc.ExpansionHorizon.Duration,
		MaxPerDay: sc.MaxAlertsPerDay,
	})

	var (
		channels []notify.Channel
		b        *bot.Bot
	)
	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		var err error
		b, err = bot.New(cfg.Telegram.Token, bot.WithDefaultHandler(handlers.DefaultHandler))
		if err != nil {
			return err
		}
		channels = append(channels, telegram.New(b))
	} else {
		logger.Warn("telegram token not configured, telegram delivery disabled")
	}
	if strings.TrimSpace(cfg.SendGrid.APIKey) != "" {
		channels = append(channels, email.NewFromConfig(cfg.SendGrid))
	}

	fanout := notify.NewFanout(st, q, channels, notify.Options{Snooze: sc.Snooze.Duration})
	fanout.Register(q)
	processor := actions.NewProcessor(st, scheduler, fanout, actions.Options{Snooze: sc.Snooze.Duration})

	sweeper := sweep.New(st, q, scheduler, alertJobs, sweep.Options{
		RearmWindow:           sc.RearmWindow.Duration,
		RearmEvery:            sc.RearmEvery.Duration,
		ExpansionCron:         sc.ExpansionCron,
		AutoCompleteCron:      sc.AutoCompleteCron,
		RetentionCron:         sc.RetentionCron,
		AlertRetention:        sc.AlertRetention.Duration,
		AutoCompleteRecurring: sc.AutoCompleteRecurring,
	})
	if err := sweeper.Register(ctx); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.New(st, processor).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		q.Run(ctx)
		return nil
	})
	group.Go(func() error {
		logger.Info("starting HTTP API", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if b != nil {
		handlers.New(st, processor).Register(b)
		group.Go(func() error {
			logger.Info("Starting bot...")
			b.Start(ctx)
			return nil
		})
	}
	return group.Wait()
}
