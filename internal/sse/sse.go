// Package sse provides Server-Sent Events formatting and streaming for the
// chat endpoints.
//
// Format is a pure function from (event name, payload) to one wire frame; it
// never buffers or reorders. Writer adapts an http.ResponseWriter, setting
// the SSE headers once and flushing after every frame so chunks reach the
// client incrementally.
package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Format encodes one SSE frame: "event: <name>\ndata: <json>\n\n".
// HTML escaping is disabled so Unicode payloads go out as UTF-8, not as
// \uXXXX sequences. The encoded JSON is a single line, so no multi-line
// "data:" splitting is needed.
func Format(event string, payload any) ([]byte, error) {
	var data bytes.Buffer
	enc := json.NewEncoder(&data)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}

	var frame bytes.Buffer
	frame.Grow(data.Len() + len(event) + 16)
	frame.WriteString("event: ")
	frame.WriteString(event)
	frame.WriteString("\ndata: ")
	frame.Write(bytes.TrimRight(data.Bytes(), "\n")) // Encode appends a newline
	frame.WriteString("\n\n")
	return frame.Bytes(), nil
}

// Writer streams SSE frames over an HTTP response.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter wraps the response writer and sets SSE headers.
// Fails when the underlying writer does not support flushing.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flusher interface")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	return &Writer{w: w, flusher: flusher}, nil
}

// Emit writes one frame and flushes it.
// Returns the context error if the client is already gone.
func (w *Writer) Emit(ctx context.Context, event string, payload any) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context canceled: %w", ctx.Err())
	default:
	}

	frame, err := Format(event, payload)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}

	w.flusher.Flush()
	return nil
}
