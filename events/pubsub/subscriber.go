package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"matchplay-gameserver/events"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// Subscriber receives allocation lifecycle events from the fleet
// orchestrator over a Pub/Sub subscription dedicated to this server.
type Subscriber struct {
	projectID        string
	subscriptionName string
	credsFile        string
	client           *gpubsub.Client
	sub              *gpubsub.Subscription
}

func NewSubscriber(projectID, subscriptionName, credsFile string) *Subscriber {
	return &Subscriber{projectID: projectID, subscriptionName: subscriptionName, credsFile: credsFile}
}

func (s *Subscriber) Start(ctx context.Context, handler func(context.Context, *events.AllocationEvent) error) error {
	if s.client == nil {
		var (
			client *gpubsub.Client
			err    error
		)
		if s.credsFile != "" {
			log.Debug().Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Str("credsFile", s.credsFile).Msg("initializing event subscriber with explicit credentials")
			client, err = gpubsub.NewClient(ctx, s.projectID, option.WithCredentialsFile(s.credsFile))
		} else {
			log.Debug().Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Msg("initializing event subscriber with default credentials")
			client, err = gpubsub.NewClient(ctx, s.projectID)
		}
		if err != nil {
			log.Error().Err(err).Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Msg("failed to create pubsub client for event subscriber")
			return err
		}
		s.client = client
		s.sub = client.Subscription(s.subscriptionName)
		log.Info().Str("subscription", s.subscriptionName).Msg("event subscriber initialized")
	}

	// Receive blocks until ctx is cancelled and fans messages out to
	// internal goroutines.
	return s.sub.Receive(ctx, func(ctx context.Context, m *gpubsub.Message) {
		log.Debug().Str("messageID", m.ID).Int("size", len(m.Data)).Msg("received lifecycle event message")
		recvAt := time.Now()
		var ev events.AllocationEvent
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			log.Error().Err(err).Msg("failed to unmarshal lifecycle event")
			m.Nack()
			return
		}
		if ev.Type == "" || (ev.Type == events.Allocated && ev.AllocationID == "") {
			// Malformed events never become valid; ack so they are not
			// redelivered forever.
			log.Error().Str("type", string(ev.Type)).Str("allocationId", ev.AllocationID).Msg("invalid lifecycle event payload")
			m.Ack()
			return
		}

		log.Info().Str("type", string(ev.Type)).Str("allocationId", ev.AllocationID).Str("serverId", ev.ServerID).Msg("handling lifecycle event")
		if err := handler(ctx, &ev); err != nil {
			log.Error().Err(err).Str("type", string(ev.Type)).Msg("event handler failed; will retry")
			m.Nack()
			return
		}
		log.Debug().Str("type", string(ev.Type)).Dur("latency", time.Since(recvAt)).Msg("event handler succeeded; acking message")
		m.Ack()
	})
}
