package triage

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Route is the gate decision for a classification.
type Route string

const (
	RouteArchive Route = "archive"
	RouteFile    Route = "file"
	RouteHalt    Route = "halt"
)

// Markers are the substrings the gate looks for in free-form model output.
// Matching is containment, so "Actionable." and "Action required" both carry
// the "Action" marker.
type Markers struct {
	Archive []string `yaml:"archive" json:"archive"`
	File    []string `yaml:"file" json:"file"`
	Task    []string `yaml:"task" json:"task"`
}

// DefaultMarkers returns the 4-way label policy markers.
func DefaultMarkers() Markers {
	return Markers{
		Archive: []string{"Spam"},
		File:    []string{"FYI"},
		Task:    []string{"High", "Action"},
	}
}

// Route applies marker priority Archive > File > halt.
func (m Markers) Route(category string) Route {
	switch {
	case hasMarker(category, m.Archive):
		return RouteArchive
	case hasMarker(category, m.File):
		return RouteFile
	default:
		return RouteHalt
	}
}

// NeedsReply reports whether a reply draft is produced for category.
func (m Markers) NeedsReply(category string) bool {
	return !hasMarker(category, m.Archive)
}

// NeedsTask reports whether a delegated task is extracted for category.
func (m Markers) NeedsTask(category string) bool {
	return hasMarker(category, m.Task)
}

// LoadMarkers reads marker overrides from YAML. Omitted lists keep defaults.
func LoadMarkers(path string) (Markers, error) {
	m := DefaultMarkers()
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read markers: %w", err)
	}
	var f Markers
	if err := yaml.Unmarshal(data, &f); err != nil {
		return m, fmt.Errorf("decode markers: %w", err)
	}
	if len(f.Archive) > 0 {
		m.Archive = f.Archive
	}
	if len(f.File) > 0 {
		m.File = f.File
	}
	if len(f.Task) > 0 {
		m.Task = f.Task
	}
	return m, nil
}

func hasMarker(category string, markers []string) bool {
	for _, mk := range markers {
		if mk != "" && strings.Contains(category, mk) {
			return true
		}
	}
	return false
}
