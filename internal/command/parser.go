// Package command maps a decoded RESP array frame onto the typed
// proto.Command variants: dispatch on the first element
// case-insensitively, borrow the remaining elements as Args, and never
// fail on an unrecognized verb - an Unknown command is preserved rather
// than dropped, so downstream tools can still observe it.
package command

import (
	"strings"

	"redisreplica/internal/proto"
)

var verbs = map[string]proto.CommandKind{
	"SELECT":    proto.CmdSelect,
	"SET":       proto.CmdSet,
	"SETEX":     proto.CmdSetEX,
	"PSETEX":    proto.CmdPSetEX,
	"DEL":       proto.CmdDel,
	"UNLINK":    proto.CmdDel,
	"EXPIRE":    proto.CmdExpire,
	"PEXPIRE":   proto.CmdPExpire,
	"EXPIREAT":  proto.CmdExpireAt,
	"PEXPIREAT": proto.CmdPExpireAt,
	"HSET":      proto.CmdHSet,
	"HMSET":     proto.CmdHMSet,
	"HDEL":      proto.CmdHDel,
	"LPUSH":     proto.CmdLPush,
	"RPUSH":     proto.CmdRPush,
	"LPOP":      proto.CmdLPop,
	"RPOP":      proto.CmdRPop,
	"SADD":      proto.CmdSAdd,
	"SREM":      proto.CmdSRem,
	"ZADD":      proto.CmdZAdd,
	"ZREM":      proto.CmdZRem,
	"INCR":      proto.CmdIncr,
	"INCRBY":    proto.CmdIncrBy,
	"APPEND":    proto.CmdAppend,
	"FLUSHDB":   proto.CmdFlushDB,
	"FLUSHALL":  proto.CmdFlushAll,
	"MULTI":     proto.CmdMulti,
	"EXEC":      proto.CmdExec,
	"PING":      proto.CmdPing,
}

// Parse maps an array frame (the verb followed by its arguments) onto a
// typed Command. An empty frame or an unrecognized verb yields
// CmdUnknown rather than an error - the parser never fails.
func Parse(frame [][]byte) proto.Command {
	if len(frame) == 0 {
		return proto.Command{Kind: proto.CmdUnknown}
	}
	name := frame[0]
	kind, ok := verbs[strings.ToUpper(string(name))]
	if !ok {
		kind = proto.CmdUnknown
	}
	cmd := proto.Command{Kind: kind, Name: name, Args: frame[1:]}
	if kind == proto.CmdSelect && len(frame) > 1 {
		cmd.DB = parseIntOrZero(frame[1])
	}
	return cmd
}

func parseIntOrZero(b []byte) int {
	n := 0
	neg := false
	for i, c := range b {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	if neg {
		n = -n
	}
	return n
}
