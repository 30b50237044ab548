// Package redis archives discarded rewind Frames into a Redis stream
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kode4food/rewind"
)

type (
	// Config selects the Redis server and the stream Frames are added to
	Config struct {
		Addr     string
		Password string
		Prefix   string
		DB       int

		// MaxLen caps the stream length; zero leaves it unbounded
		MaxLen int64
	}

	// Archiver is a rewind.Archiver that appends each Frame to a Redis
	// stream entry carrying its reason and JSON payload
	Archiver struct {
		client *goredis.Client
		stream string
		maxLen int64
	}

	// Record is an archived Frame read back from the stream
	Record struct {
		Frame    *rewind.Frame
		StreamID string
		Reason   rewind.ArchiveReason
	}
)

const (
	DefaultRedisEndpoint = "localhost:6379"
	DefaultRedisPrefix   = "rewind"
	DefaultRedisDB       = 0
	DefaultMaxLen        = 100_000

	RedisConnectTimeout = 5 * time.Second

	framesSuffix = ":frames"
	reasonField  = "reason"
	payloadField = "payload"
)

// ErrRecordMalformed indicates a stream entry could not be decoded
var ErrRecordMalformed = errors.New("archive record malformed")

func DefaultConfig() Config {
	return Config{
		Addr:   DefaultRedisEndpoint,
		Prefix: DefaultRedisPrefix,
		DB:     DefaultRedisDB,
		MaxLen: DefaultMaxLen,
	}
}

// New connects to Redis and verifies the connection
func New(ctx context.Context, cfg Config) (*Archiver, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, RedisConnectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *goredis.Client, cfg Config) *Archiver {
	return &Archiver{
		client: client,
		stream: cfg.Prefix + framesSuffix,
		maxLen: cfg.MaxLen,
	}
}

// Archive adds one stream entry per Frame using a single pipeline
func (a *Archiver) Archive(
	ctx context.Context, batch *rewind.ArchiveBatch,
) error {
	if len(batch.Frames) == 0 {
		return nil
	}

	pipe := a.client.Pipeline()
	for _, f := range batch.Frames {
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: a.stream,
			MaxLen: a.maxLen,
			Values: map[string]any{
				reasonField:  string(batch.Reason),
				payloadField: string(data),
			},
		})
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Frames returns every archived Frame still held by the stream, oldest
// first
func (a *Archiver) Frames(ctx context.Context) ([]*Record, error) {
	msgs, err := a.client.XRange(ctx, a.stream, "-", "+").Result()
	if err != nil {
		return nil, err
	}

	res := make([]*Record, 0, len(msgs))
	for _, msg := range msgs {
		rec, err := parseRecord(msg)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, nil
}

// Close closes the underlying client
func (a *Archiver) Close() error {
	return a.client.Close()
}

func parseRecord(msg goredis.XMessage) (*Record, error) {
	payload, ok := stringValue(msg.Values[payloadField])
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordMalformed, msg.ID)
	}
	reason, _ := stringValue(msg.Values[reasonField])

	f := &rewind.Frame{}
	if err := json.Unmarshal([]byte(payload), f); err != nil {
		return nil, err
	}
	return &Record{
		Frame:    f,
		StreamID: msg.ID,
		Reason:   rewind.ArchiveReason(reason),
	}, nil
}

func stringValue(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}
