package sink

import (
	"testing"

	"redisreplica/internal/proto"
)

func TestStringSetExtractsKeyAndValue(t *testing.T) {
	obj := proto.Object{Kind: proto.ObjString, Key: []byte("k"), Strings: [][]byte{[]byte("v")}}
	key, value, ok := stringSet(obj)
	if !ok || key != "k" || string(value) != "v" {
		t.Fatalf("got key=%q value=%q ok=%v", key, value, ok)
	}
}

func TestStringSetSkipsNonStringObjects(t *testing.T) {
	obj := proto.Object{Kind: proto.ObjList, Key: []byte("k"), Strings: [][]byte{[]byte("v")}}
	if _, _, ok := stringSet(obj); ok {
		t.Fatal("expected non-string object to be skipped")
	}
}

func TestCommandArgsRendersNameThenArgs(t *testing.T) {
	cmd := proto.Command{Kind: proto.CmdSet, Name: []byte("SET"), Args: [][]byte{[]byte("a"), []byte("b")}}
	args := commandArgs(cmd)
	if len(args) != 3 || args[0].([]byte) == nil {
		t.Fatalf("got %v", args)
	}
	if string(args[0].([]byte)) != "SET" || string(args[1].([]byte)) != "a" || string(args[2].([]byte)) != "b" {
		t.Fatalf("got %v", args)
	}
}

func TestCommandArgsNilForEmptyUnknown(t *testing.T) {
	cmd := proto.Command{Kind: proto.CmdUnknown}
	if args := commandArgs(cmd); args != nil {
		t.Fatalf("expected nil, got %v", args)
	}
}
