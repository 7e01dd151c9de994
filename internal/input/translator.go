// Package input implements the Input Translator: it decodes the payload of
// an inbound {"type":"input",...} control message and dispatches it,
// polymorphically on the action tag, to a desktop-I/O synthesizer. The
// synthesizer itself is an external collaborator (spec.md §1 places
// desktop-I/O synthesis out of core scope); this package only defines the
// interface it must satisfy and a headless stand-in.
package input

import (
	"encoding/json"
	"fmt"

	"github.com/desknet/tilecast/internal/logging"
)

// Synthesizer performs the actual pointer/keyboard synthesis on the host.
// Implementations are expected to be platform-specific; none is provided
// here beyond the headless NoopSynthesizer.
type Synthesizer interface {
	MoveTo(x, y int) error
	Click(x, y int) error
	KeyPress(key string) error
}

// Payload is the polymorphic shape of an input message's payload field.
// Not every field is meaningful for every action.
type Payload struct {
	Action string `json:"action"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Key    string `json:"key"`
}

// Translator dispatches decoded payloads to a Synthesizer.
type Translator struct {
	synth Synthesizer
}

// NewTranslator builds a Translator over the given synthesizer.
func NewTranslator(synth Synthesizer) *Translator {
	return &Translator{synth: synth}
}

// HandleInput decodes raw as a Payload and dispatches it. Malformed JSON,
// unknown actions, and any error or panic from the synthesizer are logged
// and swallowed; nothing here ever propagates to the transport.
func (t *Translator) HandleInput(raw json.RawMessage) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		logging.Warn("input: malformed payload: %v", err)
		return
	}

	if err := t.dispatch(p); err != nil {
		logging.Warn("input: %s: %v", p.Action, err)
	}
}

func (t *Translator) dispatch(p Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("synthesizer panic: %v", r)
		}
	}()

	switch p.Action {
	case "mouse_move":
		return t.synth.MoveTo(p.X, p.Y)
	case "mouse_click":
		if err := t.synth.MoveTo(p.X, p.Y); err != nil {
			return err
		}
		return t.synth.Click(p.X, p.Y)
	case "key_press":
		return t.synth.KeyPress(p.Key)
	default:
		return fmt.Errorf("unknown action %q", p.Action)
	}
}
