// Package app wires configuration into the stores, queue, providers and
// services shared by the API and worker processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-reminders/internal/application/contact"
	"github.com/go-reminders/internal/application/dispatch"
	"github.com/go-reminders/internal/application/parse"
	"github.com/go-reminders/internal/application/reminder"
	"github.com/go-reminders/internal/config"
	"github.com/go-reminders/internal/domain"
	"github.com/go-reminders/internal/infrastructure/cache"
	"github.com/go-reminders/internal/infrastructure/dynamo"
	"github.com/go-reminders/internal/infrastructure/enrich"
	"github.com/go-reminders/internal/infrastructure/metrics"
	"github.com/go-reminders/internal/infrastructure/notify"
	"github.com/go-reminders/internal/infrastructure/redisq"
	"github.com/go-reminders/internal/infrastructure/smtp"
	"github.com/go-reminders/internal/infrastructure/sns"
	"github.com/go-reminders/internal/infrastructure/telegram"
	"github.com/go-reminders/internal/infrastructure/whatsapp"
	"github.com/go-reminders/internal/queue"
	"github.com/go-reminders/internal/transport/http/handler"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const eventBuffer = 64

// App holds the long-lived components of a process.
type App struct {
	Config    *config.Config
	Log       zerolog.Logger
	Reminders reminder.Service
	Contacts  contact.Service
	Checks    map[string]handler.CheckFunc
	Metrics   *metrics.Metrics

	dynamo        *dynamodb.Client
	redis         *redis.Client
	queue         queue.Backend
	notifications *dynamo.NotificationRepo
	dispatch      *dispatch.Handler
}

// New connects to DynamoDB and Redis and builds the services. Tables are
// created when missing.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	dynamoClient, err := dynamo.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("dynamodb client: %w", err)
	}
	dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables, log)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	a := &App{
		Config:  cfg,
		Log:     log,
		Metrics: metrics.New("reminders"),
		dynamo:  dynamoClient,
		redis:   rdb,
		queue:   newQueue(cfg, rdb, log),
	}

	reminders := dynamo.NewReminderRepo(dynamoClient, cfg.DynamoTables.Reminders)
	a.notifications = dynamo.NewNotificationRepo(dynamoClient, cfg.DynamoTables.Notifications)
	users := dynamo.NewUserRepo(dynamoClient, cfg.DynamoTables.Users)

	a.Reminders = reminder.NewService(reminder.ServiceDeps{
		Reminders:     reminders,
		Notifications: a.notifications,
		Queue:         a.queue,
		Parser:        newParser(cfg, log),
		Config: reminder.Config{
			MaxAttempts:     cfg.Queue.MaxAttempts,
			BackoffDelay:    cfg.Queue.BackoffDelay,
			RecurInterval:   cfg.Queue.RecurInterval,
			RecurStaleAfter: cfg.Queue.RecurStaleAfter,
		},
		Log: log.With().Str("component", "reminders").Logger(),
	})

	recipients := cache.NewRecipientCache(rdb, users, cfg.RedisNamespace, cfg.RecipientTTL, log)
	a.Contacts = contact.NewService(contact.ServiceDeps{
		Users: users,
		Cache: recipients,
		Log:   log.With().Str("component", "contacts").Logger(),
	})

	senders, err := newSenders(ctx, cfg, log)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.dispatch = dispatch.NewHandler(dispatch.HandlerDeps{
		Reminders:       reminders,
		Notifications:   a.notifications,
		Recipients:      recipients,
		Sender:          senders,
		ProviderTimeout: cfg.ProviderTimeout,
		Log:             log.With().Str("component", "dispatch").Logger(),
	})

	a.Checks = map[string]handler.CheckFunc{
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		"dynamodb": func(ctx context.Context) error {
			_, err := dynamoClient.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(cfg.DynamoTables.Reminders)})
			return err
		},
	}
	return a, nil
}

func newQueue(cfg *config.Config, rdb *redis.Client, log zerolog.Logger) queue.Backend {
	switch {
	case cfg.Queue.Disabled:
		log.Warn().Msg("queue disabled: reminders are stored but never delivered")
		return queue.NewNoop()
	case cfg.Queue.Backend == "memory":
		return queue.NewMemory()
	default:
		return redisq.New(rdb, cfg.Queue.Prefix)
	}
}

func newParser(cfg *config.Config, log zerolog.Logger) *parse.Parser {
	opts := []parse.Option{parse.WithLogger(log.With().Str("component", "parser").Logger())}
	if cfg.EnrichURL != "" {
		opts = append(opts, parse.WithEnricher(enrich.NewClient(cfg.EnrichURL, cfg.EnrichAPIKey, cfg.EnrichModel), cfg.EnrichTimeout))
	}
	return parse.New(opts...)
}

// newSenders registers one provider per channel. Channels without credentials
// log their messages instead, except in production where that is an error.
func newSenders(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*notify.Router, error) {
	prod := cfg.AppEnv == "production"
	router := notify.NewRouter()
	fallback := func(ch domain.Channel, why string) error {
		if prod {
			return fmt.Errorf("%s provider: %s", ch, why)
		}
		log.Warn().Str("channel", string(ch)).Str("reason", why).Msg("using log sender")
		router.Register(ch, notify.LogSender{Channel: ch, Log: log})
		return nil
	}

	if cfg.SMTPHost != "" {
		router.Register(domain.ChannelEmail, smtp.NewMailer(cfg))
	} else if err := fallback(domain.ChannelEmail, "no SMTP host"); err != nil {
		return nil, err
	}

	if cfg.AWSAccessKeyID != "" || prod {
		awsCfg, err := dynamo.AWSConfig(ctx, cfg, cfg.SNSRegion)
		if err != nil {
			return nil, err
		}
		router.Register(domain.ChannelSMS, sns.NewSender(awsCfg))
	} else if err := fallback(domain.ChannelSMS, "no AWS credentials"); err != nil {
		return nil, err
	}

	switch cfg.ChatProvider {
	case "telegram":
		tg, err := telegram.NewSender(cfg.TelegramToken, "", cfg.ProviderTimeout)
		if err != nil {
			if ferr := fallback(domain.ChannelChat, err.Error()); ferr != nil {
				return nil, ferr
			}
			break
		}
		router.Register(domain.ChannelChat, tg)
	default:
		wa := whatsapp.NewClient(cfg.WhatsAppAPIVersion, cfg.WhatsAppPhoneID, cfg.WhatsAppToken)
		if !wa.Configured() {
			if err := fallback(domain.ChannelChat, "whatsapp credentials missing"); err != nil {
				return nil, err
			}
			break
		}
		router.Register(domain.ChannelChat, wa)
	}
	return router, nil
}

// RunWorkers processes notify and recur jobs and their events until ctx is
// cancelled. In-flight jobs finish before it returns.
func (a *App) RunWorkers(ctx context.Context) {
	events := make(chan queue.Event, eventBuffer)
	wcfg := queue.WorkerConfig{
		Concurrency:     a.Config.Worker.Concurrency,
		StalledInterval: a.Config.Worker.StalledInterval,
		PollInterval:    a.Config.Worker.PollInterval,
	}
	notifyCfg, recurCfg := wcfg, wcfg
	notifyCfg.Topic, recurCfg.Topic = domain.TopicNotify, domain.TopicRecur
	recurCfg.Concurrency = 1

	workers := []*queue.Worker{
		queue.NewWorker(a.queue, notifyCfg, a.dispatch.Handle, events, a.Log),
		queue.NewWorker(a.queue, recurCfg, a.Reminders.Advance, events, a.Log),
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		// Events emitted during shutdown are drained after the workers stop.
		dispatch.NewMonitor(a.notifications, a.Log.With().Str("component", "monitor").Logger(), a.Metrics).
			Run(context.WithoutCancel(ctx), events)
	}()

	wg.Wait()
	close(events)
	<-monitorDone
}

// Close releases the queue and the Redis connection.
func (a *App) Close() error {
	var errs []error
	if err := a.queue.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close queue: %w", err))
	}
	// The Redis queue owns the client and already closed it.
	if _, owns := a.queue.(*redisq.Backend); !owns {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
