package netsync

import "context"

// Backend abstracts the pub/sub transport. Redis is the low-latency
// default; Kafka trades latency for persistence and replay.
type Backend interface {
	Publish(ctx context.Context, channel string, msg interface{}) error
	Subscribe(ctx context.Context, channel string, handler func(payload []byte)) error
	Close() error
}
