package input

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	action string
	x, y   int
	key    string
}

type fakeSynthesizer struct {
	calls   []recordedCall
	failOn  string
	panicOn string
}

func (f *fakeSynthesizer) MoveTo(x, y int) error {
	f.calls = append(f.calls, recordedCall{action: "move", x: x, y: y})
	if f.panicOn == "move" {
		panic("synthetic panic")
	}
	if f.failOn == "move" {
		return errors.New("move failed")
	}
	return nil
}

func (f *fakeSynthesizer) Click(x, y int) error {
	f.calls = append(f.calls, recordedCall{action: "click", x: x, y: y})
	if f.failOn == "click" {
		return errors.New("click failed")
	}
	return nil
}

func (f *fakeSynthesizer) KeyPress(key string) error {
	f.calls = append(f.calls, recordedCall{action: "key", key: key})
	if f.panicOn == "key" {
		panic("synthetic key panic")
	}
	return nil
}

func TestHandleInputMouseMove(t *testing.T) {
	synth := &fakeSynthesizer{}
	tr := NewTranslator(synth)

	tr.HandleInput(json.RawMessage(`{"action":"mouse_move","x":10,"y":20}`))

	require.Len(t, synth.calls, 1)
	assert.Equal(t, recordedCall{action: "move", x: 10, y: 20}, synth.calls[0])
}

func TestHandleInputMouseClickMovesThenClicks(t *testing.T) {
	synth := &fakeSynthesizer{}
	tr := NewTranslator(synth)

	tr.HandleInput(json.RawMessage(`{"action":"mouse_click","x":5,"y":6}`))

	require.Len(t, synth.calls, 2)
	assert.Equal(t, "move", synth.calls[0].action)
	assert.Equal(t, "click", synth.calls[1].action)
}

func TestHandleInputKeyPress(t *testing.T) {
	synth := &fakeSynthesizer{}
	tr := NewTranslator(synth)

	tr.HandleInput(json.RawMessage(`{"action":"key_press","key":"Enter"}`))

	require.Len(t, synth.calls, 1)
	assert.Equal(t, "Enter", synth.calls[0].key)
}

func TestHandleInputUnknownActionIsIgnored(t *testing.T) {
	synth := &fakeSynthesizer{}
	tr := NewTranslator(synth)

	assert.NotPanics(t, func() {
		tr.HandleInput(json.RawMessage(`{"action":"scroll_wheel","x":1,"y":1}`))
	})
	assert.Empty(t, synth.calls)
}

func TestHandleInputMalformedJSONIsIgnored(t *testing.T) {
	synth := &fakeSynthesizer{}
	tr := NewTranslator(synth)

	assert.NotPanics(t, func() {
		tr.HandleInput(json.RawMessage(`{not json`))
	})
	assert.Empty(t, synth.calls)
}

func TestHandleInputSynthesizerErrorIsSwallowed(t *testing.T) {
	synth := &fakeSynthesizer{failOn: "move"}
	tr := NewTranslator(synth)

	assert.NotPanics(t, func() {
		tr.HandleInput(json.RawMessage(`{"action":"mouse_move","x":1,"y":1}`))
	})
}

func TestHandleInputSynthesizerPanicIsRecovered(t *testing.T) {
	synth := &fakeSynthesizer{panicOn: "move"}
	tr := NewTranslator(synth)

	assert.NotPanics(t, func() {
		tr.HandleInput(json.RawMessage(`{"action":"mouse_move","x":1,"y":1}`))
	})
}

func TestNoopSynthesizerNeverErrors(t *testing.T) {
	var s NoopSynthesizer
	assert.NoError(t, s.MoveTo(1, 2))
	assert.NoError(t, s.Click(1, 2))
	assert.NoError(t, s.KeyPress("a"))
}
