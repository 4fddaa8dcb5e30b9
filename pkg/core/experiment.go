package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// HostInfo describes the machine a run executed on.
type HostInfo struct {
	Hostname       string `json:"hostname"`
	CPU            string `json:"cpu"`
	OS             string `json:"-"`
	OSInfo         string `json:"-"`
	RuntimeVersion string `json:"runtime_version"`
}

type hostInfoJSON struct {
	Hostname       string    `json:"hostname"`
	CPU            string    `json:"cpu"`
	OS             [2]string `json:"os"`
	RuntimeVersion string    `json:"runtime_version"`
}

// MarshalJSON encodes the operating system as an [os, os_info] pair.
func (h HostInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(hostInfoJSON{
		Hostname:       h.Hostname,
		CPU:            h.CPU,
		OS:             [2]string{h.OS, h.OSInfo},
		RuntimeVersion: h.RuntimeVersion,
	})
}

// UnmarshalJSON accepts the [os, os_info] pair produced by MarshalJSON.
func (h *HostInfo) UnmarshalJSON(data []byte) error {
	var raw hostInfoJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*h = HostInfo{
		Hostname:       raw.Hostname,
		CPU:            raw.CPU,
		OS:             raw.OS[0],
		OSInfo:         raw.OS[1],
		RuntimeVersion: raw.RuntimeVersion,
	}
	return nil
}

// RepositoryInfo identifies a version-control checkout.
type RepositoryInfo struct {
	URL    string `json:"url"`
	Commit string `json:"commit"`
	Dirty  bool   `json:"dirty"`
}

// SourceRef is a (filename, digest) pair as declared by an experiment.
// It encodes as a two-element JSON array.
type SourceRef struct {
	Filename string
	Digest   string
}

// MarshalJSON encodes the ref as [filename, digest].
func (s SourceRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{s.Filename, s.Digest})
}

// UnmarshalJSON decodes a [filename, digest] pair.
func (s *SourceRef) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	s.Filename, s.Digest = pair[0], pair[1]
	return nil
}

// ExperimentInfo is the full definition of an experiment as reported when a
// run starts. Its JSON encoding is deterministic and is what gets digested
// to identify the experiment.
type ExperimentInfo struct {
	Name         string           `json:"name"`
	BaseDir      string           `json:"base_dir"`
	Sources      []SourceRef      `json:"sources"`
	Dependencies []string         `json:"dependencies"`
	Repositories []RepositoryInfo `json:"repositories"`
	MainFile     string           `json:"mainfile,omitempty"`
}

// Source is an immutable content-addressed source file.
type Source struct {
	ID       int64
	Filename string
	Digest   string
	Content  string
}

// Resource is an immutable content-addressed input file read by a run.
type Resource struct {
	ID       int64
	Filename string
	Digest   string
	Content  []byte
}

// Host is a registered host dimension row.
type Host struct {
	ID int64
	HostInfo
}

// Repository is a registered repository dimension row.
type Repository struct {
	ID int64
	RepositoryInfo
}

// Dependency is a package name and version pair.
type Dependency struct {
	ID      int64
	Name    string
	Version string
}

// ParseDependency splits a "name==version" string on the first "==".
// A string without a separator yields an empty version.
func ParseDependency(s string) Dependency {
	name, version, _ := strings.Cut(s, "==")
	return Dependency{Name: name, Version: version}
}

// String renders the dependency in "name==version" form.
func (d Dependency) String() string {
	return fmt.Sprintf("%s==%s", d.Name, d.Version)
}

// Experiment is a registered experiment definition.
type Experiment struct {
	ID      int64
	Name    string
	Digest  string
	BaseDir string
}

// Artifact is a file produced by a run. Artifacts are owned by their run
// and never deduplicated.
type Artifact struct {
	ID          int64
	RunID       int64
	Filename    string
	ContentType string
	Metadata    map[string]any
	Content     []byte
}
