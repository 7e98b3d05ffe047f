package proto

// CommandKind tags the write-command variant carried by a Command.
// Only the existence of variants matters to the core: the RDB decoder
// synthesises CmdSelect for SELECTDB opcodes, and the command parser
// (internal/command) maps AOF/replication-stream array frames onto the
// rest.
type CommandKind int

const (
	CmdUnknown CommandKind = iota
	CmdSelect
	CmdSet
	CmdSetEX
	CmdPSetEX
	CmdDel
	CmdExpire
	CmdPExpire
	CmdExpireAt
	CmdPExpireAt
	CmdHSet
	CmdHMSet
	CmdHDel
	CmdLPush
	CmdRPush
	CmdLPop
	CmdRPop
	CmdSAdd
	CmdSRem
	CmdZAdd
	CmdZRem
	CmdIncr
	CmdIncrBy
	CmdAppend
	CmdFlushDB
	CmdFlushAll
	CmdMulti
	CmdExec
	CmdPing
)

// Command is a borrowed view of one write command: the verb as seen on
// the wire, its arguments, and (for CmdSelect only) the parsed db index.
type Command struct {
	Kind CommandKind
	Name []byte
	Args [][]byte
	DB   int
}
