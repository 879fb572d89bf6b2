package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/auth"
	"github.com/ariefcatur/go-marketplace-orders/internal/config"
	"github.com/ariefcatur/go-marketplace-orders/internal/funds"
	"github.com/ariefcatur/go-marketplace-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/mailer"
	"github.com/ariefcatur/go-marketplace-orders/internal/memstore"
	"github.com/ariefcatur/go-marketplace-orders/internal/notify"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/otp"
	"github.com/ariefcatur/go-marketplace-orders/internal/postgres"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/ariefcatur/go-marketplace-orders/internal/sweeper"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

type store interface {
	orders.Store
	funds.Store
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store
	var st store
	switch cfg.Store {
	case "memory":
		log.Println("store=memory, data is lost on exit")
		st = memstore.New()
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("db connect: %v", err)
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatalf("%v", err)
		}
		st = &postgres.Store{DB: db}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Printf("redis unavailable, status cache and sweeps will fail until it is back: %v", err)
	}

	// Kafka producers outlive the request context so they can flush on exit.
	pctx, pcancel := context.WithCancel(context.Background())
	defer pcancel()
	notes := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicNotifications, 1024)
	notes.Start(pctx)
	mails := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicEmail, 256)
	mails.Start(pctx)

	var (
		notifier orders.Notifier = &notify.KafkaNotifier{Producer: notes, Service: cfg.ServiceName}
		emailer  funds.Emailer   = &mailer.Queue{Producer: mails}
	)
	if cfg.Store == "memory" {
		// broker-less dev runs: log events, send mail inline when SMTP is set
		notifier = notify.LogNotifier{}
		smtpCfg := mailer.SMTPConfig{
			Server:   cfg.SMTP.Server,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Pass:     cfg.SMTP.Pass,
			FromAddr: cfg.SMTP.FromAddr,
			FromName: cfg.SMTP.FromName,
		}
		if smtpCfg.Validate() == nil {
			emailer = &mailer.Direct{Sender: mailer.NewSMTPSender(smtpCfg)}
		}
	}
	cache := &redisx.StatusCache{Redis: rdb}

	osvc := &orders.Service{Store: st, Notifier: notifier, Cache: cache}
	fsvc := &funds.Service{
		Store:    st,
		Orders:   osvc,
		Gate:     otp.Gate{Cost: cfg.OTPBcryptCost},
		Emailer:  emailer,
		Notifier: notifier,
	}
	sw := &sweeper.Sweeper{
		Store:    st,
		Orders:   osvc,
		Locker:   &redisx.Locker{Redis: rdb},
		Dedup:    &redisx.Deduper{Redis: rdb, Service: cfg.ServiceName + "-sweeper"},
		Interval: cfg.SweepInterval,
	}

	router := httpx.NewRouter(httpx.Deps{
		Orders:  osvc,
		Funds:   fsvc,
		Auth:    &auth.Verifier{Secret: []byte(cfg.JWTSecret)},
		Cache:   cache,
		Sweeper: sw,
		Limiter: httpx.NewLimiter(cfg.OTPRatePerMin),
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if cfg.SweepEnabled {
		g.Go(func() error {
			log.Printf("sweeper started: interval=%s", sw.Interval)
			if err := sw.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Printf("exit: %v", err)
	}

	notes.Close()
	mails.Close()
	notes.WaitClosed()
	mails.WaitClosed()
}
