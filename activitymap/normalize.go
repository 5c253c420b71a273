package activitymap

import (
	"context"
	"strings"
	"time"

	portal "github.com/goliatone/go-portal"
)

const (
	// MetadataKeyDevice stores the device the event was recorded for
	MetadataKeyDevice = "device_id"
	// MetadataKeyEmail stores the masked e-mail of anonymous account events
	MetadataKeyEmail = "email"
)

const (
	defaultChannel    = "portal"
	defaultObjectType = "session"
	defaultActorID    = "anonymous"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	actorFallback    string
	objectIDResolver func(portal.ActivityEvent) string
}

// Normalize converts a portal.ActivityEvent into the normalized shape. The
// principal is the actor and the device session is the object. E-mail
// addresses in the metadata are masked.
func Normalize(event portal.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.PrincipalID),
		strings.TrimSpace(options.actorFallback),
	)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: strings.TrimSpace(options.objectType),
		ObjectID:   resolveObjectID(event, options.objectIDResolver),
		Channel:    strings.TrimSpace(options.channel),
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the default object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectIDResolver overrides object-id extraction from ActivityEvent.
func WithObjectIDResolver(resolver func(portal.ActivityEvent) string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the actor-id used when the event has no principal.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// LogSink writes every activity event to a logger as one audit line
type LogSink struct {
	logger portal.Logger
	opts   []Option
}

var _ portal.ActivitySink = (*LogSink)(nil)

// NewLogSink returns a sink logging normalized events at info level
func NewLogSink(logger portal.Logger, opts ...Option) *LogSink {
	return &LogSink{logger: logger, opts: opts}
}

// Record implements portal.ActivitySink.
func (s *LogSink) Record(_ context.Context, event portal.ActivityEvent) error {
	if s == nil || s.logger == nil {
		return nil
	}

	out := Normalize(event, s.opts...)
	s.logger.Info("activity",
		"actor_id", out.ActorID,
		"verb", out.Verb,
		"object_type", out.ObjectType,
		"object_id", out.ObjectID,
		"channel", out.Channel,
		"metadata", out.Metadata,
		"occurred_at", out.OccurredAt,
	)
	return nil
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
}

func resolveObjectID(event portal.ActivityEvent, resolver func(portal.ActivityEvent) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(event))
	}
	return strings.TrimSpace(event.DeviceID)
}

func normalizeMetadata(event portal.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	if email, ok := metadata[MetadataKeyEmail].(string); ok {
		metadata[MetadataKeyEmail] = MaskEmail(email)
	}

	if device := strings.TrimSpace(event.DeviceID); device != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[MetadataKeyDevice]; !exists {
			metadata[MetadataKeyDevice] = device
		}
	}

	return metadata
}

// MaskEmail keeps the first character of the local part and the domain:
// "jane@example.com" becomes "j***@example.com".
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
