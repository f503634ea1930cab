package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"backend-safetrack/internal/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// JetStream is the part of jetstream.JetStream the publisher uses.
type JetStream interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamPublisher publishes intents to the SAFETY_INTENTS stream on a
// background goroutine per intent.
type JetStreamPublisher struct {
	js     JetStream
	closer func()
	wg     sync.WaitGroup
}

func NewJetStreamPublisher(js JetStream, closer func()) *JetStreamPublisher {
	return &JetStreamPublisher{js: js, closer: closer}
}

func (p *JetStreamPublisher) Publish(ctx context.Context, intent Intent) {
	if intent.At.IsZero() {
		intent.At = time.Now().UTC()
	}
	payload, err := json.Marshal(intent)
	if err != nil {
		logger.Error(err, zap.String("kind", string(intent.Kind)))
		return
	}

	// The request context ends with the response; the publish must outlive it.
	ctx = context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		if _, err := p.js.Publish(ctx, intent.Subject(), payload); err != nil {
			logger.Warn("intent publish failed",
				zap.String("subject", intent.Subject()),
				zap.String("owner_id", intent.OwnerID),
				zap.Error(err),
			)
			return
		}
		logger.Debug("intent published", zap.String("subject", intent.Subject()))
	}()
}

// Close waits for in-flight publishes and closes the connection.
func (p *JetStreamPublisher) Close() {
	p.wg.Wait()
	if p.closer != nil {
		p.closer()
	}
}

var newBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

var streamConfig = jetstream.StreamConfig{
	Name:      StreamName,
	Subjects:  []string{subjectPrefix + ">"},
	Retention: jetstream.LimitsPolicy,
	MaxAge:    7 * 24 * time.Hour,
	Storage:   jetstream.FileStorage,
	Replicas:  1,
}

// Connect dials NATS with exponential backoff and makes sure the intents
// stream exists.
func Connect(ctx context.Context, url string) (*JetStreamPublisher, error) {
	var nc *nats.Conn
	operation := func() error {
		conn, err := nats.Connect(url, nats.Name("safetrack-api"))
		if err != nil {
			return err
		}
		nc = conn
		return nil
	}
	notifyOnError := func(err error, next time.Duration) {
		logger.Warn("nats connect failed, retrying", zap.Error(err), zap.Duration("next_retry_in", next))
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(newBackOff(), ctx), notifyOnError); err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	if _, err := js.CreateOrUpdateStream(ctx, streamConfig); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", StreamName, err)
	}

	logger.Info("connected to nats", zap.String("url", nc.ConnectedUrl()), zap.String("stream", StreamName))
	return NewJetStreamPublisher(js, nc.Close), nil
}
