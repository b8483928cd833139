package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/acme/call-session-orchestrator/internal/config"
	"github.com/acme/call-session-orchestrator/internal/queue"
)

// sessionctl submits a session request to the request topic.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	providerID := flag.String("provider", "", "provider id")
	clientID := flag.String("client", "", "client id")
	providerPhone := flag.String("provider-phone", "", "provider phone number")
	clientPhone := flag.String("client-phone", "", "client phone number")
	intentID := flag.String("payment-intent", "", "authorized payment intent id")
	amount := flag.Int64("amount", 0, "held amount in minor units")
	currency := flag.String("currency", "eur", "currency code")
	delay := flag.Int("delay", 0, "start delay in minutes")
	queued := flag.Bool("queue", false, "start through the drain queue instead of a timer")
	languages := flag.String("languages", "", "comma separated client languages")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		log.Fatalf("failed to bootstrap kafka: %v", err)
	}
	publisher := queue.NewRequestPublisher(kafka, cfg.Kafka.RequestTopic)
	defer publisher.Close()

	msg := queue.SessionRequestMessage{
		RequestID:       uuid.NewString(),
		ProviderID:      *providerID,
		ClientID:        *clientID,
		ProviderPhone:   *providerPhone,
		ClientPhone:     *clientPhone,
		PaymentIntentID: *intentID,
		Amount:          *amount,
		Currency:        *currency,
		DelayMinutes:    *delay,
		Queue:           *queued,
	}
	if *languages != "" {
		msg.ClientLanguages = strings.Split(*languages, ",")
	}

	sctx, scancel := context.WithTimeout(ctx, 10*time.Second)
	defer scancel()
	if err := publisher.SubmitRequest(sctx, msg); err != nil {
		log.Fatalf("failed to submit request: %v", err)
	}
	log.Printf("submitted session request %s", msg.RequestID)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
