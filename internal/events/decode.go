package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Gracecr/sacred/pkg/core"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of an event log.
type Format string

// Supported event log formats.
const (
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// maxLineSize bounds a single JSON line; heartbeats carry captured output.
const maxLineSize = 64 << 20

// FormatForPath picks the format from the file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported event log %s: expected .jsonl, .ndjson, .yaml or .yml", filepath.Base(path))
	}
}

// IsEventLog reports whether path has an event log extension.
func IsEventLog(path string) bool {
	_, err := FormatForPath(path)
	return err == nil
}

// ReadFile decodes the event log at path.
func ReadFile(path string) ([]Event, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) //nolint:gosec // event logs named by the user
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer func() { _ = f.Close() }()

	events, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return events, nil
}

// Decode reads all events from r.
func Decode(r io.Reader, format Format) ([]Event, error) {
	switch format {
	case FormatJSONL:
		return decodeJSONL(r)
	case FormatYAML:
		return decodeYAML(r)
	default:
		return nil, fmt.Errorf("unknown event log format %q", format)
	}
}

func decodeJSONL(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w: %v", line, core.ErrInvalidPayload, err)
		}
		if ev.Type == "" {
			return nil, fmt.Errorf("line %d: %w: missing event type", line, core.ErrInvalidPayload)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	return events, nil
}

type yamlEvent struct {
	Type    Type `yaml:"type"`
	Payload any  `yaml:"payload"`
}

func decodeYAML(r io.Reader) ([]Event, error) {
	var events []Event
	dec := yaml.NewDecoder(r)

	for doc := 1; ; doc++ {
		var raw *yamlEvent
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w: %v", doc, core.ErrInvalidPayload, err)
		}
		if raw == nil {
			continue
		}
		if raw.Type == "" {
			return nil, fmt.Errorf("document %d: %w: missing event type", doc, core.ErrInvalidPayload)
		}

		payload, err := json.Marshal(raw.Payload)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w: %v", doc, core.ErrInvalidPayload, err)
		}
		events = append(events, Event{Type: raw.Type, Payload: payload})
	}
	return events, nil
}

// EncodeAll writes events to w in the given format.
func EncodeAll(w io.Writer, format Format, events []Event) error {
	switch format {
	case FormatJSONL:
		enc := json.NewEncoder(w)
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		for _, ev := range events {
			var payload any
			if err := json.Unmarshal(ev.Payload, &payload); err != nil {
				return fmt.Errorf("failed to decode %s payload: %w", ev.Type, err)
			}
			if err := enc.Encode(yamlEvent{Type: ev.Type, Payload: payload}); err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown event log format %q", format)
	}
}
