package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/islamwell/rcoket-reminder-fork-sub001/config"
	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/clients/caldav"
	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/notify"
	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/scheduler"
	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/service"
	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/storage"
	syncer "github.com/islamwell/rcoket-reminder-fork-sub001/internal/sync"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	}

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init storage")
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Notification channel. Without a Telegram token the daemon runs
	// local-only and notifications go to the log.
	var delivery notify.Delivery
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init telegram notifier")
		}
		delivery = tg
	} else {
		delivery = notify.DeliveryFunc(func(ctx context.Context, p notify.Payload) error {
			log.Info().Int64("reminder", p.ReminderID).Str("title", p.Title).Msg("reminder fired")
			return nil
		})
	}

	var sched *scheduler.Scheduler
	registrar := scheduler.NewTimerRegistrar(func(p notify.Payload) { sched.Fire(p) })
	sched = scheduler.New(store, registrar, log)

	svc := service.NewReminderService(store, sched, delivery, cfg.Timezone, log)
	sched.SetFireHandler(svc.HandleFire)

	if err := sched.ScheduleAllActive(); err != nil {
		log.Fatal().Err(err).Msg("failed to register triggers")
	}

	// Remote sync runs only when a CalDAV endpoint is configured.
	var engine *syncer.Engine
	davClient := caldav.NewClient(cfg.CalDAV.URL, cfg.CalDAV.Username, cfg.CalDAV.Password)
	davClient.SetCalendarID(cfg.CalDAV.CalendarID)
	if davClient.IsConfigured() {
		calendarPath := cfg.CalDAV.CalendarID
		if calendarPath == "" {
			calendars, err := davClient.DiscoverCalendars(ctx)
			if err != nil || len(calendars) == 0 {
				log.Fatal().Err(err).Msg("calendar discovery failed")
			}
			calendarPath = calendars[0].URL
			log.Info().Str("calendar", calendars[0].DisplayName).Msg("calendar selected")
		}

		strategy, err := syncer.ParseStrategy(cfg.Sync.ConflictStrategy)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid conflict strategy")
		}
		session := syncer.GuestSession{UserID: cfg.Session.UserID}
		engine = syncer.NewEngine(store, syncer.NewCalDAVStore(davClient, calendarPath), session, syncer.Options{
			Strategy: strategy,
			Backoff: syncer.Backoff{
				Base:        cfg.Sync.BaseDelay.Std(),
				MaxAttempts: cfg.Sync.MaxAttempts,
			},
			RatePerSec: cfg.Sync.RatePerSec,
		}, log)

		go engine.Run(ctx, cfg.Sync.Interval.Std())
	} else {
		log.Info().Msg("no caldav endpoint configured, running local-only")
	}

	log.Info().Str("db", cfg.DatabasePath).Str("tz", cfg.TimezoneName).Msg("reminderd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	cancel()
	sched.Stop()
	log.Info().Msg("reminderd stopped")
}
