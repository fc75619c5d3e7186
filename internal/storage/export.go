package storage

import (
	"encoding/json"
	"io"

	"github.com/san-kum/physync/internal/sim"
)

type ExportData struct {
	RunMetadata
	Steps int              `json:"steps"`
	Trace []sim.TracePoint `json:"trace"`
}

// ExportJSON writes a run's metadata and full trace as one JSON document.
func ExportJSON(w io.Writer, meta *RunMetadata, trace []sim.TracePoint) error {
	data := ExportData{
		RunMetadata: *meta,
		Steps:       len(trace),
		Trace:       trace,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
