package realtime

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emitValues(e *Emitter, event string, values ...any) error {
	args, err := EncodeArgs(values...)
	if err != nil {
		return err
	}
	return e.Emit(event, args)
}

func TestEmitter_OnOff(t *testing.T) {
	e := NewEmitter()
	var got []string
	off1 := e.On("rename", func(args []json.RawMessage) error {
		got = append(got, "first")
		return nil
	})
	off2 := e.On("rename", func(args []json.RawMessage) error {
		got = append(got, "second")
		return nil
	})
	assert.Equal(t, 2, e.Count("rename"))

	require.NoError(t, emitValues(e, "rename", "id", "name"))
	assert.Equal(t, []string{"first", "second"}, got)

	off1()
	off1()
	assert.Equal(t, 1, e.Count("rename"))

	got = nil
	require.NoError(t, emitValues(e, "rename", "id", "name"))
	assert.Equal(t, []string{"second"}, got)

	off2()
	assert.Equal(t, 0, e.Count("rename"))
}

func TestEmitter_UnknownEventIgnored(t *testing.T) {
	e := NewEmitter()
	assert.NoError(t, emitValues(e, "nobodyListens", 1))
}

func TestEmitter_HandlerErrorsJoined(t *testing.T) {
	e := NewEmitter()
	errA := errors.New("a")
	errB := errors.New("b")
	e.On("x", func([]json.RawMessage) error { return errA })
	e.On("x", func([]json.RawMessage) error { return errB })

	err := emitValues(e, "x")
	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "x", herr.Event)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestEmitter_OffDuringEmit(t *testing.T) {
	e := NewEmitter()
	calls := 0
	var off func()
	off = e.On("x", func([]json.RawMessage) error {
		calls++
		off()
		return nil
	})
	require.NoError(t, emitValues(e, "x"))
	require.NoError(t, emitValues(e, "x"))
	assert.Equal(t, 1, calls)
}

func TestDecodeArgs(t *testing.T) {
	args, err := EncodeArgs("e1", map[string]string{"name": "a.tex"}, 7)
	require.NoError(t, err)

	var id string
	var obj struct{ Name string }
	var n int
	require.NoError(t, DecodeArgs(args, &id, &obj, &n))
	assert.Equal(t, "e1", id)
	assert.Equal(t, "a.tex", obj.Name)
	assert.Equal(t, 7, n)

	require.NoError(t, DecodeArgs(args, nil, nil, &n))

	var extra string
	err = DecodeArgs(args, nil, nil, nil, &extra)
	assert.ErrorIs(t, err, ErrMissingArg)

	err = DecodeArgs(args, &n)
	assert.Error(t, err)
}
