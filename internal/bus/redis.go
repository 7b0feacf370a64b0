package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/collabboard/collabboard-server/internal/rbac"
)

const (
	// DefaultChannel is the pub/sub channel shared by every process.
	DefaultChannel = "collabboard:notify"
	// DefaultAckTimeout bounds the wait for remote role-change acks when the
	// caller's context has no earlier deadline.
	DefaultAckTimeout = 5 * time.Second

	ackTTL = 30 * time.Second
)

// ErrAckTimeout means some subscriber did not confirm a role change in time.
var ErrAckTimeout = errors.New("role change not acknowledged")

func ackKey(channel, id string) string {
	return channel + ":ack:" + id
}

// Connect parses redisURL and verifies the server answers.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// Redis applies notifications to the local hub, then publishes them for
// every other process. A role change returns once each subscriber that
// received it has acknowledged, so no hub keeps serving the old role.
type Redis struct {
	client     *redis.Client
	channel    string
	origin     string
	local      Target
	ackTimeout time.Duration
}

// NewRedis publishes on channel. local may be nil when this process runs no
// hub.
func NewRedis(client *redis.Client, channel string, local Target) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{
		client:     client,
		channel:    channel,
		origin:     uuid.NewString(),
		local:      local,
		ackTimeout: DefaultAckTimeout,
	}
}

// Origin identifies this publisher. The subscriber of the same process
// takes it so it skips changes that were already applied locally.
func (r *Redis) Origin() string {
	return r.origin
}

func (r *Redis) NotifyRoleChanged(ctx context.Context, identityID, board string, role rbac.Role) error {
	if r.local != nil {
		if err := r.local.NotifyRoleChanged(ctx, identityID, board, role); err != nil {
			return fmt.Errorf("apply locally: %w", err)
		}
	}

	id := uuid.NewString()
	receivers, err := r.publish(ctx, envelope{
		ID:         id,
		Origin:     r.origin,
		Kind:       kindRoleChanged,
		IdentityID: identityID,
		Board:      board,
		Role:       role,
	})
	if err != nil {
		return err
	}
	return r.awaitAcks(ctx, id, receivers)
}

func (r *Redis) PushToIdentity(ctx context.Context, identityID, name string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if r.local != nil {
		if err := r.local.PushToIdentity(ctx, identityID, name, payload); err != nil {
			return fmt.Errorf("apply locally: %w", err)
		}
	}
	_, err = r.publish(ctx, envelope{
		Origin:     r.origin,
		Kind:       kindPush,
		IdentityID: identityID,
		Name:       name,
		Payload:    raw,
	})
	return err
}

// publish returns how many subscribers received the envelope.
func (r *Redis) publish(ctx context.Context, env envelope) (int64, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("encode envelope: %w", err)
	}
	n, err := r.client.Publish(ctx, r.channel, data).Result()
	if err != nil {
		return 0, fmt.Errorf("publish %s: %w", env.Kind, err)
	}
	return n, nil
}

// awaitAcks pops one ack per receiver from the envelope's list.
func (r *Redis) awaitAcks(ctx context.Context, id string, want int64) error {
	if want == 0 {
		return nil
	}
	key := ackKey(r.channel, id)
	// The blocking pops run on their own timeout, not on ctx, so an expired
	// context never leaves a half-read connection in the pool.
	popCtx := context.WithoutCancel(ctx)
	defer r.client.Del(popCtx, key)

	deadline := time.Now().Add(r.ackTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for got := int64(0); got < want; got++ {
		wait := time.Until(deadline)
		if wait <= 0 {
			return fmt.Errorf("%w: %d of %d subscribers", ErrAckTimeout, got, want)
		}
		// BLPOP counts whole seconds.
		if wait < time.Second {
			wait = time.Second
		}
		err := r.client.BLPop(popCtx, wait, key).Err()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %d of %d subscribers", ErrAckTimeout, got, want)
		}
		if err != nil {
			return fmt.Errorf("await role change ack: %w", err)
		}
	}
	return nil
}

// Subscriber applies envelopes from the channel to the local hub.
type Subscriber struct {
	client  *redis.Client
	channel string
	origin  string
	target  Target
	log     *zerolog.Logger
}

// NewSubscriber delivers to target. Envelopes published with origin were
// already applied by this process and are only acknowledged.
func NewSubscriber(client *redis.Client, channel, origin string, target Target, logger *zerolog.Logger) *Subscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Subscriber{client: client, channel: channel, origin: origin, target: target, log: logger}
}

// Run blocks until ctx is cancelled. ready, if non-nil, is closed once the
// subscription is confirmed.
func (s *Subscriber) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	s.log.Info().Str("channel", s.channel).Msg("notification subscriber started")

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			s.apply(ctx, msg.Payload)
		}
	}
}

func (s *Subscriber) apply(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed notification")
		return
	}
	if env.ID != "" {
		defer s.ack(ctx, env)
	}
	if s.origin != "" && env.Origin == s.origin {
		return
	}

	var err error
	switch env.Kind {
	case kindRoleChanged:
		err = s.target.NotifyRoleChanged(ctx, env.IdentityID, env.Board, env.Role)
	case kindPush:
		err = s.target.PushToIdentity(ctx, env.IdentityID, env.Name, env.Payload)
	default:
		s.log.Warn().Str("kind", env.Kind).Msg("unknown notification kind")
		return
	}
	if err != nil {
		s.log.Error().Err(err).
			Str("kind", env.Kind).
			Str("identity_id", env.IdentityID).
			Msg("notification delivery failed")
	}
}

func (s *Subscriber) ack(ctx context.Context, env envelope) {
	key := ackKey(s.channel, env.ID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, s.origin)
	pipe.Expire(ctx, key, ackTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("id", env.ID).Msg("failed to acknowledge notification")
	}
}
