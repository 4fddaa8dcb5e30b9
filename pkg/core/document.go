package core

import (
	"encoding/json"
	"math"
	"time"
)

// RunDocument is the read projection of a run with every related record
// resolved. Its JSON encoding is the external contract of the store's read
// side.
type RunDocument struct {
	Token       string             `json:"run_token"`
	Command     string             `json:"command"`
	StartTime   time.Time          `json:"start_time"`
	Heartbeat   *time.Time         `json:"heartbeat"`
	StopTime    *time.Time         `json:"stop_time"`
	QueueTime   *time.Time         `json:"queue_time"`
	Status      RunStatus          `json:"status"`
	Result      *float64           `json:"result"`
	Meta        MetaInfo           `json:"meta"`
	Resources   []ResourceRef      `json:"resources"`
	Artifacts   []ArtifactRef      `json:"artifacts"`
	Metrics     []MetricDocument   `json:"metrics"`
	Host        HostInfo           `json:"host"`
	Experiment  ExperimentDocument `json:"experiment"`
	Config      map[string]any     `json:"config"`
	CapturedOut string             `json:"captured_out"`
	FailTrace   string             `json:"fail_trace"`
}

// ResourceRef identifies a resource in a run document.
type ResourceRef struct {
	Filename string `json:"filename"`
	Digest   string `json:"md5sum"`
}

// ArtifactRef identifies an artifact in a run document.
type ArtifactRef struct {
	ID       int64  `json:"_id"`
	Filename string `json:"filename"`
}

// MetricDocument is a metric with its full sample history.
type MetricDocument struct {
	Name       string      `json:"name"`
	Values     []float64   `json:"values"`
	Steps      []float64   `json:"steps"`
	Timestamps []time.Time `json:"timestamps"`
	Units      string      `json:"units"`
	DependsOn  []string    `json:"depends_on,omitempty"`
}

// ExperimentDocument is the experiment definition in a run document.
type ExperimentDocument struct {
	Name         string           `json:"name"`
	BaseDir      string           `json:"base_dir"`
	Sources      []ResourceRef    `json:"sources"`
	Repositories []RepositoryInfo `json:"repositories"`
	Dependencies []string         `json:"dependencies"`
}

// jsonNumber is a float64 whose JSON form spells non-finite values as the
// strings "NaN", "Infinity" and "-Infinity".
type jsonNumber float64

func (n jsonNumber) MarshalJSON() ([]byte, error) {
	f := float64(n)
	switch {
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	case math.IsInf(f, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Infinity"`), nil
	}
	return json.Marshal(f)
}

func jsonNumbers(fs []float64) []jsonNumber {
	if fs == nil {
		return nil
	}
	out := make([]jsonNumber, len(fs))
	for i, f := range fs {
		out[i] = jsonNumber(f)
	}
	return out
}

func jsonNumberPtr(f *float64) *jsonNumber {
	if f == nil {
		return nil
	}
	n := jsonNumber(*f)
	return &n
}

// MarshalJSON encodes the document, including non-finite samples.
func (m MetricDocument) MarshalJSON() ([]byte, error) {
	type plain MetricDocument
	return json.Marshal(struct {
		plain
		Values []jsonNumber `json:"values"`
		Steps  []jsonNumber `json:"steps"`
	}{plain(m), jsonNumbers(m.Values), jsonNumbers(m.Steps)})
}

// MarshalJSON encodes the document, including a non-finite result.
func (d RunDocument) MarshalJSON() ([]byte, error) {
	type plain RunDocument
	return json.Marshal(struct {
		plain
		Result *jsonNumber `json:"result"`
	}{plain(d), jsonNumberPtr(d.Result)})
}
