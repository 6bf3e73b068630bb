package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	UpdateStreamName    = "MARGIN_UPDATES"
	UpdateSubjects      = "margin.updates.>"
	updateSubjectPrefix = "margin.updates"
)

// UpdatePublisher publishes revaluation updates to NATS for downstream
// broadcasters (WebSocket fan-out, dashboards). It implements Sink.
type UpdatePublisher struct {
	js jetstream.JetStream
}

func NewUpdatePublisher(js jetstream.JetStream) *UpdatePublisher {
	return &UpdatePublisher{js: js}
}

// Publish sends one update to margin.updates.{SYMBOL}.
func (p *UpdatePublisher) Publish(ctx context.Context, u Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", updateSubjectPrefix, u.Symbol)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureUpdateStream creates the outbound updates stream.
func EnsureUpdateStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      UpdateStreamName,
		Subjects:  []string{UpdateSubjects},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    1 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", UpdateStreamName, err)
	}
	return nil
}
