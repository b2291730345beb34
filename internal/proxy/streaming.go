package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// sseChunkPayload is the subset of an SSE data payload the parser inspects.
// Unrecognized fields are ignored rather than rejected: the core must
// never break a valid upstream stream due to unexpected fields.
type sseChunkPayload struct {
	Model string          `json:"model"`
	Usage json.RawMessage `json:"usage"`
}

// streamThrough reads chunks from body and writes them verbatim to w
// (flushing after every write so bytes reach the client before this
// function attempts to parse them), and in the same loop splits a
// rolling text buffer on the SSE "\n\n" event separator to look for usage
// objects. onUsage is invoked once per event carrying a usage object.
// Decode/parse failures and missing fields are silently ignored; the
// stream itself is never interrupted by an observability failure.
func streamThrough(w http.ResponseWriter, body io.Reader, fallbackModel string, onUsage func(model string, usage json.RawMessage)) {
	flusher, _ := w.(http.Flusher)

	buf := make([]byte, 32*1024)
	var rolling bytes.Buffer

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, err := w.Write(chunk); err == nil && flusher != nil {
				flusher.Flush()
			}
			rolling.Write(chunk)
			drainEvents(&rolling, fallbackModel, onUsage)
		}
		if readErr != nil {
			return
		}
	}
}

// drainEvents pulls complete "\n\n"-delimited SSE events out of rolling,
// leaving any trailing partial event buffered for the next read.
func drainEvents(rolling *bytes.Buffer, fallbackModel string, onUsage func(string, json.RawMessage)) {
	for {
		data := rolling.Bytes()
		idx := bytes.Index(data, []byte("\n\n"))
		if idx < 0 {
			return
		}
		event := data[:idx]
		rolling.Next(idx + 2)
		handleEvent(event, fallbackModel, onUsage)
	}
}

func handleEvent(event []byte, fallbackModel string, onUsage func(string, json.RawMessage)) {
	for _, line := range strings.Split(string(event), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var payload sseChunkPayload
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			continue
		}
		if len(payload.Usage) == 0 {
			continue
		}

		model := payload.Model
		if model == "" {
			model = fallbackModel
		}
		onUsage(model, payload.Usage)
	}
}
