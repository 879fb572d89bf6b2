package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-marketplace-orders/internal/config"
	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/mailer"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	smtpCfg := mailer.SMTPConfig{
		Server:   cfg.SMTP.Server,
		Port:     cfg.SMTP.Port,
		User:     cfg.SMTP.User,
		Pass:     cfg.SMTP.Pass,
		FromAddr: cfg.SMTP.FromAddr,
		FromName: cfg.SMTP.FromName,
	}
	if err := smtpCfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	h := &mailer.Handler{
		Sender: mailer.NewSMTPSender(smtpCfg),
		Dedup:  &redisx.Deduper{Redis: rdb, Service: cfg.MailerGroup},
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.MailerGroup, orders.TopicEmail, cfg.MailerWorkers)

	log.Printf("mailer consumer started: group=%s topic=%s workers=%d", cfg.MailerGroup, orders.TopicEmail, cfg.MailerWorkers)
	if err := cons.Start(ctx, h.HandleMessage); err != nil {
		log.Printf("consumer exit: %v", err)
	}
	log.Println("mailer stopped")
}
