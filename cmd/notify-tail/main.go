package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"pressgate/pkg/notify"
)

// Testable variables for main()
var (
	logFatalf     = log.Fatalf
	newConsumerFn = func() (notify.Consumer, error) {
		return notify.NewKafkaConsumer(notify.ConsumerConfig{
			Brokers: strings.Split(env("NOTIFY_KAFKA_BROKERS", "localhost:9092"), ","),
			Topic:   env("NOTIFY_KAFKA_TOPIC", "pressgate.actions"),
			GroupID: env("NOTIFY_KAFKA_GROUP_ID", "pressgate-tail"),
		})
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer, err := newConsumerFn()
	if err != nil {
		logFatalf("consumer: %v", err)
		return
	}
	defer consumer.Close()

	if err := runTail(ctx, consumer, log.Printf); err != nil {
		logFatalf("tail: %v", err)
	}
}

func runTail(ctx context.Context, consumer notify.Consumer, logf func(format string, args ...any)) error {
	if consumer == nil {
		return errors.New("consumer required")
	}
	if logf == nil {
		logf = log.Printf
	}
	for {
		n, err := consumer.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return err
		}
		logf("%s %s tool=%s actor=%s decision=%s status=%s corr=%s",
			n.OccurredAt.Format("15:04:05"), n.Kind, n.ToolName, n.ActorID, n.Decision, n.Status, n.CorrelationID)
	}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
