package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-marketplace-orders/internal/config"
	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/notify"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/postgres"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/ariefcatur/go-marketplace-orders/internal/sweeper"
	"github.com/joho/godotenv"
)

func main() {
	once := flag.Bool("once", false, "run a single pass and exit")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()
	st := &postgres.Store{DB: db}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	pctx, pcancel := context.WithCancel(context.Background())
	defer pcancel()
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicNotifications, 1024)
	prod.Start(pctx)
	defer func() {
		prod.Close()
		prod.WaitClosed()
	}()

	service := cfg.ServiceName + "-sweeper"
	osvc := &orders.Service{
		Store:    st,
		Notifier: &notify.KafkaNotifier{Producer: prod, Service: service},
		Cache:    &redisx.StatusCache{Redis: rdb},
	}
	sw := &sweeper.Sweeper{
		Store:    st,
		Orders:   osvc,
		Locker:   &redisx.Locker{Redis: rdb},
		Dedup:    &redisx.Deduper{Redis: rdb, Service: service},
		Interval: cfg.SweepInterval,
	}

	if *once {
		rep, err := sw.RunOnce(ctx)
		if err != nil {
			log.Printf("sweep: %v", err)
			return
		}
		log.Printf("sweep done: skipped=%t scanned=%d cancelled=%d lost=%d failed=%d",
			rep.Skipped, rep.Scanned, len(rep.Cancelled), rep.Lost, rep.Failed)
		return
	}

	log.Printf("sweeper started: interval=%s", sw.Interval)
	if err := sw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("sweeper exit: %v", err)
	}
}
