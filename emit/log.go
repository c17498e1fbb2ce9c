package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter implements Emitter by writing structured log output to a writer.
//
// Supports two output modes:
//   - Text mode (default): human-readable key=value pairs
//   - JSON mode: one JSON object per line (JSONL)
//
// Example text output:
//
//	[round_start] runID=run-001 round=2 stage=run
//	[epoch] runID=run-001 round=2 epoch=30 stage=train meta={"loss":1.92}
//
// Example JSON output:
//
//	{"runID":"run-001","round":2,"epoch":30,"stage":"train","msg":"epoch","meta":{"loss":1.92}}
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to the given writer
// (os.Stdout when nil). jsonMode selects JSONL output over text.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit writes the event in the configured format.
func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		RunID string                 `json:"runID"`
		Round int                    `json:"round"`
		Epoch int                    `json:"epoch,omitempty"`
		Stage string                 `json:"stage"`
		Msg   string                 `json:"msg"`
		Meta  map[string]interface{} `json:"meta,omitempty"`
	}{
		RunID: event.RunID,
		Round: event.Round,
		Epoch: event.Epoch,
		Stage: event.Stage,
		Msg:   event.Msg,
		Meta:  event.Meta,
	})
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] runID=%s round=%d", event.Msg, event.RunID, event.Round)
	if event.Epoch > 0 {
		fmt.Fprintf(l.writer, " epoch=%d", event.Epoch)
	}
	fmt.Fprintf(l.writer, " stage=%s", event.Stage)

	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}
	fmt.Fprint(l.writer, "\n")
}
