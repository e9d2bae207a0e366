package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/md-rashed-zaman/clinicsched/libs/config"
	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/libs/grpcx"
	"github.com/md-rashed-zaman/clinicsched/libs/httpx"
	"github.com/md-rashed-zaman/clinicsched/libs/kafkax"
	otelx "github.com/md-rashed-zaman/clinicsched/libs/otel"
	"github.com/md-rashed-zaman/clinicsched/libs/runtime"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/consumer"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/handlers"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/inbox"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/metrics"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/recovery"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/recurrence"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/reminders"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/sms"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/storage"
)

func main() {
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "scheduling-service")
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))

	if err := run(service, logger); err != nil {
		logger.Error("scheduling service failed", "err", err)
		panic(err)
	}
}

func run(service string, logger *slog.Logger) error {
	port, err := config.Port("PORT", "8090")
	if err != nil {
		return err
	}
	grpcPort, err := config.Port("GRPC_PORT", "9090")
	if err != nil {
		return err
	}
	loc, err := config.Location("TIMEZONE", "UTC")
	if err != nil {
		return err
	}
	leadMinutes, err := config.PositiveInt("REMINDER_LEAD_MINUTES", 30)
	if err != nil {
		return err
	}
	daysAhead, err := config.PositiveInt("SWEEP_DAYS_AHEAD", recovery.DefaultDaysAhead)
	if err != nil {
		return err
	}
	sweepEvery, err := config.Duration("SWEEP_INTERVAL", 15*time.Minute)
	if err != nil {
		return err
	}
	maxScanDays, err := config.PositiveInt("GENERATOR_MAX_SCAN_DAYS", recurrence.DefaultMaxScanDays)
	if err != nil {
		return err
	}
	maxAttempts, err := maxSendAttempts()
	if err != nil {
		return err
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	brokers := config.String("KAFKA_BROKERS", "")
	readyChecks := []runtime.ReadyCheck{}

	var (
		store  storage.Store
		pool   *db.Pool
		events reminders.EventSink
	)
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		pool, err = db.Open(ctx, dbURL, db.Options{})
		if err != nil {
			return fmt.Errorf("db connection failed: %w", err)
		}
		defer pool.Close()
		store = storage.NewPostgres(pool)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})

		outboxRepo := outbox.NewRepository(pool)
		events = outboxRepo
		if brokers != "" {
			publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
				Brokers:   brokers,
				PollEvery: 2 * time.Second,
				BatchSize: 50,
			})
			go publisher.Run(ctx)
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		store = storage.NewMemory()
	}

	sender, err := newSender(ctx, logger)
	if err != nil {
		return err
	}
	formatter, err := reminders.NewFormatter(config.String("REMINDER_TEMPLATE", ""), config.String("CLINIC_NAME", ""), loc)
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	sched := reminders.NewScheduler(store, sender, events, logger, m, reminders.Config{
		LeadTime:    time.Duration(leadMinutes) * time.Minute,
		MaxAttempts: maxAttempts,
		Formatter:   formatter,
	})
	defer sched.Stop()

	svc := booking.NewService(store, sched, logger)
	gen := recurrence.NewGenerator(store, sched, logger, m, recurrence.Config{
		MaxScanDays: maxScanDays,
		Location:    loc,
	})
	sweep := recovery.New(store, sched, logger, m, recovery.Config{
		DaysAhead: daysAhead,
		Interval:  sweepEvery,
	})

	grpcServer := grpcx.NewServer(logger)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(grpcServer, hs)
	go func() {
		if err := grpcx.Serve(ctx, logger, grpcServer, ":"+grpcPort); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	// Timers live in memory only, so every restart rebuilds them before taking traffic.
	if _, err := sweep.RescheduleUpcoming(ctx, daysAhead); err != nil {
		return fmt.Errorf("startup sweep: %w", err)
	}
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	go sweep.Run(ctx)

	if brokers != "" && pool != nil {
		eventConsumer := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topics:  consumer.BookingTopics,
		}, consumer.BookingHandler(logger, svc))
		go eventConsumer.Run(ctx)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/v1/", handlers.NewRouter(handlers.Routes{
		Appointments: handlers.NewAppointmentHandler(svc, store, logger),
		Plans:        handlers.NewPlanHandler(gen, logger),
		Reminders:    handlers.NewReminderHandler(sweep, sched, logger),
	}))

	rateLimit, closeLimiter := newRateLimit(logger)
	defer closeLimiter()

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.DefaultCORSPolicy(config.List("CORS_ALLOWED_ORIGINS"))),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(15*time.Second),
		rateLimit,
	)
	handler = otelhttp.NewHandler(handler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	runtime.ServeHTTP(ctx, logger, srv, 10*time.Second)
	return nil
}

// maxSendAttempts reads MAX_SEND_ATTEMPTS; a negative value retries forever.
func maxSendAttempts() (int, error) {
	raw := config.String("MAX_SEND_ATTEMPTS", "")
	if raw == "" {
		return reminders.DefaultMaxAttempts, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("MAX_SEND_ATTEMPTS must be a non-zero integer (got %q)", raw)
	}
	return n, nil
}

func newSender(ctx context.Context, logger *slog.Logger) (sms.Sender, error) {
	provider := strings.ToLower(config.String("SMS_PROVIDER", "noop"))
	switch provider {
	case "noop":
		logger.Warn("SMS_PROVIDER is noop, reminders are logged only")
		return sms.NewNoopSender(), nil
	case "webhook":
		url, err := config.RequiredString("SMS_WEBHOOK_URL")
		if err != nil {
			return nil, err
		}
		return sms.NewWebhookSender(url, config.String("SMS_WEBHOOK_TOKEN", "")), nil
	case "sqs":
		queueURL, err := config.RequiredString("SMS_SQS_QUEUE_URL")
		if err != nil {
			return nil, err
		}
		client, err := sms.NewSQSClient(ctx, sms.AWSConfig{
			Region:           config.String("AWS_REGION", "us-east-1"),
			AccessKeyID:      config.String("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:  config.String("AWS_SECRET_ACCESS_KEY", ""),
			EndpointOverride: config.String("AWS_ENDPOINT_OVERRIDE", ""),
		})
		if err != nil {
			return nil, err
		}
		return sms.NewSQSSender(client, queueURL)
	}
	return nil, fmt.Errorf("unknown SMS_PROVIDER %q", provider)
}

func newRateLimit(logger *slog.Logger) (httpx.Middleware, func()) {
	limitPerMinute, err := config.PositiveInt("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		logger.Warn("invalid RATE_LIMIT_PER_MINUTE, using default", "err", err)
		limitPerMinute = 120
	}
	failOpen := config.Bool("RATE_LIMIT_FAIL_OPEN", true)

	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
		})
		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl:scheduling"))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
		return httpx.WithRateLimit(rl, logger, failOpen), func() { _ = rdb.Close() }
	}
	logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	return httpx.WithRateLimit(httpx.NewMemoryRateLimiter(limitPerMinute, time.Minute), logger, failOpen), func() {}
}
