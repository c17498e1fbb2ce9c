package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogEmitter_TextOutput(t *testing.T) {
	t.Run("emits event with all fields", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, false)

		emitter.Emit(Event{
			RunID: "run-001",
			Round: 2,
			Epoch: 15,
			Stage: "train",
			Msg:   "epoch",
			Meta:  map[string]interface{}{"loss": 1.5},
		})

		output := buf.String()
		for _, want := range []string{"run-001", "round=2", "epoch=15", "stage=train", "[epoch]", "loss"} {
			if !strings.Contains(output, want) {
				t.Errorf("output missing %q: %s", want, output)
			}
		}
	})

	t.Run("omits epoch when zero", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, false)

		emitter.Emit(Event{RunID: "run-001", Round: 1, Stage: "generate", Msg: "round_start"})

		if strings.Contains(buf.String(), "epoch=") {
			t.Errorf("output contains epoch for non-training event: %s", buf.String())
		}
	})

	t.Run("nil writer defaults to stdout without panic", func(t *testing.T) {
		emitter := NewLogEmitter(nil, false)
		if emitter == nil {
			t.Fatal("NewLogEmitter returned nil")
		}
	})
}

func TestLogEmitter_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, true)

	emitter.Emit(Event{
		RunID: "run-002",
		Round: 1,
		Stage: "generate",
		Msg:   "generation_done",
		Meta:  map[string]interface{}{"n_samples": 100},
	})

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded["runID"] != "run-002" {
		t.Errorf("runID = %v, want run-002", decoded["runID"])
	}
	if decoded["msg"] != "generation_done" {
		t.Errorf("msg = %v, want generation_done", decoded["msg"])
	}
	if meta, ok := decoded["meta"].(map[string]interface{}); !ok || meta["n_samples"] != float64(100) {
		t.Errorf("meta = %v, want n_samples 100", decoded["meta"])
	}
}

func TestNullEmitter(t *testing.T) {
	emitter := NewNullEmitter()
	// Must not panic and must accept any event.
	emitter.Emit(Event{})
	emitter.Emit(Event{RunID: "x", Meta: map[string]interface{}{"error": "ignored"}})
}
