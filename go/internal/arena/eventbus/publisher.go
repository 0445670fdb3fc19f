package eventbus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

type JetStreamConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // How long to keep messages
	MaxMsgs         int64         // Max number of messages to keep
	Replicas        int           // Number of replicas for the stream
	DuplicateWindow time.Duration // Window for duplicate detection
	QueueSize       int           // Pending publishes before new ones are dropped
	PublishTimeout  time.Duration
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:             nats.DefaultURL,
		StreamName:      "ARENA_EVENTS",
		SubjectPrefix:   "arena.rooms",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          24 * time.Hour,
		MaxMsgs:         -1, // No limit
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
		QueueSize:       1024,
		PublishTimeout:  5 * time.Second,
	}
}

// Message is one room event waiting to be published
type Message struct {
	RoomID    string
	EventType string
	EventID   string
	Body      []byte
}

// JetStreamPublisher mirrors room broadcasts to a JetStream stream. Publish
// only queues; Run drains the queue so a slow or absent NATS server never
// stalls the caller.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
	queue  chan Message
}

func NewJetStreamPublisher(cfg JetStreamConfig) (*JetStreamPublisher, error) {
	opts := []nats.Option{
		nats.Name("arena-gateway"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &JetStreamPublisher{
		nc:     nc,
		js:     js,
		config: cfg,
		queue:  make(chan Message, cfg.QueueSize),
	}

	if err := p.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return p, nil
}

func (p *JetStreamPublisher) ensureStream(ctx context.Context) error {
	sc := streamConfig(p.config)

	stream, err := p.js.Stream(ctx, p.config.StreamName)
	if err != nil {
		if _, err = p.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().
			Str("stream", p.config.StreamName).
			Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !isStreamConfigEqual(info.Config, sc) {
		if _, err = p.js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().
			Str("stream", p.config.StreamName).
			Msg("updated JetStream stream")
	}
	return nil
}

func streamConfig(cfg JetStreamConfig) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Arena room events",
		Subjects:    []string{fmt.Sprintf("%s.>", cfg.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		MaxMsgs:     cfg.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    cfg.Replicas,
		Duplicates:  cfg.DuplicateWindow,
	}
}

// Publish queues a room event. It never blocks; when the queue is full the
// event is dropped.
func (p *JetStreamPublisher) Publish(roomID, eventType, eventID string, body []byte) {
	select {
	case p.queue <- Message{RoomID: roomID, EventType: eventType, EventID: eventID, Body: body}:
	default:
		log.Warn().
			Str("room_id", roomID).
			Str("event_type", eventType).
			Msg("event mirror queue full, dropping message")
	}
}

// Run publishes queued events until ctx is done
func (p *JetStreamPublisher) Run(ctx context.Context) {
	log.Info().Str("stream", p.config.StreamName).Msg("event mirror started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event mirror stopped")
			return
		case msg := <-p.queue:
			if err := p.publish(ctx, msg); err != nil {
				log.Error().
					Err(err).
					Str("room_id", msg.RoomID).
					Str("event_id", msg.EventID).
					Msg("failed to mirror event")
			}
		}
	}
}

func (p *JetStreamPublisher) publish(ctx context.Context, msg Message) error {
	subject := Subject(p.config.SubjectPrefix, msg.RoomID, msg.EventType)

	pubCtx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	ack, err := p.js.PublishMsg(pubCtx, &nats.Msg{
		Subject: subject,
		Data:    msg.Body,
		Header: nats.Header{
			"Event-Type": []string{msg.EventType},
			"Room-ID":    []string{msg.RoomID},
			"Event-ID":   []string{msg.EventID},
		},
	},
		jetstream.WithMsgID(msg.EventID),
		jetstream.WithExpectStream(p.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", msg.EventID).
		Uint64("sequence", ack.Sequence).
		Str("stream", ack.Stream).
		Msg("published to JetStream")

	return nil
}

func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// Subject builds <prefix>.<roomId>.<event>. Room IDs are free-form, so NATS
// token separators and wildcards in them are replaced with '_'.
func Subject(prefix, roomID, eventType string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, sanitizeToken(roomID), sanitizeToken(eventType))
}

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_", "\n", "_", "\r", "_")

func sanitizeToken(s string) string {
	if s == "" {
		return "_"
	}
	return tokenReplacer.Replace(s)
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgs == b.MaxMsgs &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates &&
		len(a.Subjects) == len(b.Subjects) &&
		(len(a.Subjects) == 0 || a.Subjects[0] == b.Subjects[0])
}
