package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignatureNormalizesArguments(t *testing.T) {
	a := Signature("grep", json.RawMessage(`{"pattern":"x","path":"."}`))
	b := Signature("grep", json.RawMessage(`{ "path": ".", "pattern": "x" }`))
	assert.Equal(t, a, b, "key order and whitespace must not matter")

	c := Signature("grep", json.RawMessage(`{"pattern":"y","path":"."}`))
	assert.NotEqual(t, a, c)

	d := Signature("shell", json.RawMessage(`{"pattern":"x","path":"."}`))
	assert.NotEqual(t, a, d, "signatures are per tool")

	assert.Equal(t, Signature("ls", nil), Signature("ls", json.RawMessage(`{}`)))
}

func TestGuardAllowsBelowThreshold(t *testing.T) {
	g := NewGuard(10, 3)
	args := json.RawMessage(`{"path":"a.go"}`)

	for i := 0; i < 3; i++ {
		assert.Equal(t, VerdictAllow, g.Check("read_file", args, false), "call %d", i+1)
		g.Record("read_file", args)
	}
}

func TestGuardInterceptsFourthIdenticalCall(t *testing.T) {
	g := NewGuard(10, 3)
	args := json.RawMessage(`{"path":"a.go"}`)

	for i := 0; i < 3; i++ {
		g.Record("read_file", args)
	}
	assert.Equal(t, VerdictAskUser, g.Check("read_file", args, false))
	assert.Equal(t, VerdictRemind, g.Check("ask_user", args, true))
}

func TestGuardDifferentArgumentsResetTheRun(t *testing.T) {
	g := NewGuard(10, 3)
	same := json.RawMessage(`{"path":"a.go"}`)
	other := json.RawMessage(`{"path":"b.go"}`)

	g.Record("read_file", same)
	g.Record("read_file", same)
	g.Record("read_file", other) // breaks the consecutive run
	g.Record("read_file", same)

	assert.Equal(t, VerdictAllow, g.Check("read_file", same, false))
}

func TestGuardWindowAgesOut(t *testing.T) {
	g := NewGuard(3, 3)
	args := json.RawMessage(`{"q":1}`)

	for i := 0; i < 3; i++ {
		g.Record("search", args)
	}
	assert.Equal(t, VerdictAskUser, g.Check("search", args, false))

	// A different call pushes the oldest identical one out of the window.
	g.Record("search", json.RawMessage(`{"q":2}`))
	assert.Equal(t, VerdictAllow, g.Check("search", args, false))
}

func TestGuardReset(t *testing.T) {
	g := NewGuard(10, 3)
	args := json.RawMessage(`{"path":"a.go"}`)
	for i := 0; i < 3; i++ {
		g.Record("read_file", args)
	}
	assert.Equal(t, VerdictAskUser, g.Check("read_file", args, false))

	g.Reset("read_file")
	assert.Equal(t, VerdictAllow, g.Check("read_file", args, false))
}

func TestGuardTracksToolsIndependently(t *testing.T) {
	g := NewGuard(10, 3)
	args := json.RawMessage(`{"x":1}`)
	for i := 0; i < 3; i++ {
		g.Record("a", args)
	}
	assert.Equal(t, VerdictAllow, g.Check("b", args, false))
}
