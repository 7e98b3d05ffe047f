// Package sink is a demo proto.Handler that replays decoded events
// into a real standalone Redis instance, for manual verification and
// for cmd/replay-to-redis.
package sink

import (
	"context"

	"github.com/redis/go-redis/v9"

	"redisreplica/internal/proto"
)

// Sink applies decoded Command events to a single Redis instance.
type Sink struct {
	client *redis.Client
	ctx    context.Context
}

// New dials addr with the default go-redis standalone client.
func New(addr string) (*Sink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &Sink{client: client, ctx: ctx}, nil
}

// Close releases the underlying connection pool.
func (s *Sink) Close() error { return s.client.Close() }

// Handle applies a decoded event. RDB-phase String objects are
// replayed as SET; other RDB object kinds are skipped (reassembling
// batched List/Set/SortedSet/Hash objects into one write belongs to a
// consumer that wants full RDB replay, which is beyond a demo sink).
// AOF-phase commands are replayed verbatim via the generic command
// pipe, since internal/command deliberately preserves raw argument
// bytes for exactly this kind of passthrough.
func (s *Sink) Handle(ev proto.Event) error {
	switch ev.Kind {
	case proto.EventSnapshot:
		return s.handleObject(ev.Object)
	case proto.EventStream:
		return s.handleCommand(ev.Command)
	}
	return nil
}

func (s *Sink) handleObject(obj proto.Object) error {
	key, value, ok := stringSet(obj)
	if !ok {
		return nil
	}
	return s.client.Set(s.ctx, key, value, 0).Err()
}

// stringSet extracts the (key, value) pair to SET for a String RDB
// object, or ok=false for every other object kind.
func stringSet(obj proto.Object) (key string, value []byte, ok bool) {
	if obj.Kind != proto.ObjString || len(obj.Strings) == 0 {
		return "", nil, false
	}
	return string(obj.Key), obj.Strings[0], true
}

func (s *Sink) handleCommand(cmd proto.Command) error {
	args := commandArgs(cmd)
	if args == nil {
		return nil
	}
	return s.client.Do(s.ctx, args...).Err()
}

// commandArgs renders a Command as the generic argument vector
// go-redis's Do expects, or nil for a command with no name to send
// (an empty frame parsed by internal/command).
func commandArgs(cmd proto.Command) []interface{} {
	if cmd.Kind == proto.CmdUnknown && len(cmd.Name) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(cmd.Args)+1)
	args = append(args, cmd.Name)
	for _, a := range cmd.Args {
		args = append(args, a)
	}
	return args
}
