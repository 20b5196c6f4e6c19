package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	"github.com/kestrelhq/solsync/service/events"
)

// subscribeCommand streams account update events for one account.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to account update events",
		ArgsUsage: "[account-id]",
		Description: `Subscribe to account-transactions-updated events on NATS JetStream.

Events are published to the subject: accounts.{account_id}.transactions.
Pass an account id to watch one account, or no argument to watch all.

Example:
  solsync nats subscribe my-account --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name",
				Value: "solsync-cli",
			},
		},
		Action: func(c *cli.Context) error {
			subject := events.StreamSubjects
			if c.NArg() == 1 {
				subject = fmt.Sprintf("accounts.%s.transactions", c.Args().First())
			}
			return streamEvents(c.String("nats-url"), subject, c.String("consumer-name"), c.Bool("json"))
		},
	}
}

func streamEvents(natsURL, subject, consumerName string, jsonOutput bool) error {
	nc, err := nats.Connect(natsURL,
		nats.Name("solsync-cli"),
		nats.Timeout(10*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer, err := js.CreateOrUpdateConsumer(ctx, events.StreamName, jetstream.ConsumerConfig{
		Name:          consumerName,
		FilterSubject: subject,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	fmt.Fprintf(os.Stderr, "subscribed to %s, waiting for events (ctrl-c to stop)...\n", subject)

	sub, err := consumer.Consume(func(msg jetstream.Msg) {
		defer msg.Ack()

		if jsonOutput {
			fmt.Println(string(msg.Data()))
			return
		}

		var event events.AccountTransactionsUpdated
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			fmt.Fprintf(os.Stderr, "bad event payload: %v\n", err)
			return
		}
		fmt.Printf("[%s] account %s: %d new transactions\n",
			event.PublishedAt.Format(time.RFC3339), event.AccountID, len(event.Transactions))
		for _, txn := range event.Transactions {
			fmt.Printf("  %s %s %s slot=%d\n", txn.ID, txn.Type, txn.Status, txn.Slot)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}
	defer sub.Stop()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	<-shutdown

	return nil
}
