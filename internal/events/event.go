// Package events decodes recorded run event logs and replays them against
// run observers.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gracecr/sacred/internal/metrics"
	"github.com/Gracecr/sacred/pkg/core"
)

// Type names an observer event.
type Type string

// Event types, in the order they usually occur during a run.
const (
	TypeQueued      Type = "queued"
	TypeStarted     Type = "started"
	TypeHeartbeat   Type = "heartbeat"
	TypeResource    Type = "resource"
	TypeArtifact    Type = "artifact"
	TypeMetrics     Type = "metrics"
	TypeCompleted   Type = "completed"
	TypeInterrupted Type = "interrupted"
	TypeFailed      Type = "failed"
)

// Event is one recorded observer call.
type Event struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type metaPayload struct {
	Comment  string  `json:"comment"`
	Priority float64 `json:"priority"`
}

type queuedPayload struct {
	ExInfo    core.ExperimentInfo `json:"ex_info"`
	Command   string              `json:"command"`
	HostInfo  core.HostInfo       `json:"host_info"`
	QueueTime time.Time           `json:"queue_time"`
	Config    map[string]any      `json:"config"`
	MetaInfo  metaPayload         `json:"meta_info"`
	ID        string              `json:"_id"`
}

type startedPayload struct {
	ExInfo    core.ExperimentInfo `json:"ex_info"`
	Command   string              `json:"command"`
	HostInfo  core.HostInfo       `json:"host_info"`
	StartTime time.Time           `json:"start_time"`
	Config    map[string]any      `json:"config"`
	MetaInfo  metaPayload         `json:"meta_info"`
	ID        string              `json:"_id"`
}

type heartbeatPayload struct {
	Info        map[string]any `json:"info"`
	CapturedOut string         `json:"captured_out"`
	BeatTime    time.Time      `json:"beat_time"`
	Result      *float64       `json:"result"`
}

type completedPayload struct {
	StopTime time.Time `json:"stop_time"`
	Result   *float64  `json:"result"`
}

type interruptedPayload struct {
	InterruptTime time.Time      `json:"interrupt_time"`
	Status        core.RunStatus `json:"status"`
}

type failedPayload struct {
	FailTime  time.Time `json:"fail_time"`
	FailTrace []string  `json:"fail_trace"`
}

type resourcePayload struct {
	Filename string `json:"filename"`
}

type artifactPayload struct {
	Name        string         `json:"name"`
	Filename    string         `json:"filename"`
	Metadata    map[string]any `json:"metadata"`
	ContentType string         `json:"content_type"`
}

// MetricsPayload is the payload of a metrics event: raw logged entries,
// linearized before they reach the observers.
type MetricsPayload struct {
	Entries []metrics.ScalarEntry `json:"entries"`
	Info    map[string]any        `json:"info"`
}

// Decode returns the typed payload of the event: one of the core event
// structs, a resource filename, or a MetricsPayload.
func (e Event) Decode() (any, error) {
	switch e.Type {
	case TypeQueued:
		var p queuedPayload
		if err := e.unmarshal(&p); err != nil {
			return nil, err
		}
		return core.QueuedEvent{
			ExperimentInfo: p.ExInfo,
			Command:        p.Command,
			HostInfo:       p.HostInfo,
			QueueTime:      p.QueueTime,
			Config:         p.Config,
			MetaInfo:       core.MetaInfo(p.MetaInfo),
			Token:          p.ID,
		}, nil
	case TypeStarted:
		var p startedPayload
		if err := e.unmarshal(&p); err != nil {
			return nil, err
		}
		return core.StartedEvent{
			ExperimentInfo: p.ExInfo,
			Command:        p.Command,
			HostInfo:       p.HostInfo,
			StartTime:      p.StartTime,
			Config:         p.Config,
			MetaInfo:       core.MetaInfo(p.MetaInfo),
			Token:          p.ID,
		}, nil
	case TypeHeartbeat:
		var p heartbeatPayload
		if err := e.unmarshal(&p); err != nil {
			return nil, err
		}
		return core.HeartbeatEvent(p), nil
	case TypeCompleted:
		var p completedPayload
		if err := e.unmarshal(&p); err != nil {
			return nil, err
		}
		return core.CompletedEvent(p), nil
	case TypeInterrupted:
		var p interruptedPayload
		if err := e.unmarshal(&p); err != nil {
			return nil, err
		}
		return core.InterruptedEvent(p), nil
	case TypeFailed:
		var p failedPayload
		if err := e.unmarshal(&p); err != nil {
			return nil, err
		}
		return core.FailedEvent(p), nil
	case TypeResource:
		var p resourcePayload
		if err := e.unmarshal(&p); err != nil {
			return nil, err
		}
		return p.Filename, nil
	case TypeArtifact:
		var p artifactPayload
		if err := e.unmarshal(&p); err != nil {
			return nil, err
		}
		return core.ArtifactEvent(p), nil
	case TypeMetrics:
		var p MetricsPayload
		if err := e.unmarshal(&p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", core.ErrInvalidPayload, e.Type)
	}
}

func (e Event) unmarshal(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s event without payload", core.ErrInvalidPayload, e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s event: %v", core.ErrInvalidPayload, e.Type, err)
	}
	return nil
}

// Encode builds an event from one of the values Decode returns. It is used
// to record event logs.
func Encode(v any) (Event, error) {
	var (
		t       Type
		payload any
	)
	switch ev := v.(type) {
	case core.QueuedEvent:
		t, payload = TypeQueued, queuedPayload{
			ExInfo: ev.ExperimentInfo, Command: ev.Command, HostInfo: ev.HostInfo,
			QueueTime: ev.QueueTime, Config: ev.Config, MetaInfo: metaPayload(ev.MetaInfo), ID: ev.Token,
		}
	case core.StartedEvent:
		t, payload = TypeStarted, startedPayload{
			ExInfo: ev.ExperimentInfo, Command: ev.Command, HostInfo: ev.HostInfo,
			StartTime: ev.StartTime, Config: ev.Config, MetaInfo: metaPayload(ev.MetaInfo), ID: ev.Token,
		}
	case core.HeartbeatEvent:
		t, payload = TypeHeartbeat, heartbeatPayload(ev)
	case core.CompletedEvent:
		t, payload = TypeCompleted, completedPayload(ev)
	case core.InterruptedEvent:
		t, payload = TypeInterrupted, interruptedPayload(ev)
	case core.FailedEvent:
		t, payload = TypeFailed, failedPayload(ev)
	case core.ArtifactEvent:
		t, payload = TypeArtifact, artifactPayload(ev)
	case string:
		t, payload = TypeResource, resourcePayload{Filename: ev}
	case MetricsPayload:
		t, payload = TypeMetrics, ev
	default:
		return Event{}, fmt.Errorf("%w: cannot encode %T", core.ErrInvalidPayload, v)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode %s payload: %w", t, err)
	}
	return Event{Type: t, Payload: b}, nil
}
