package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/san-kum/physync/internal/sim"
	"github.com/san-kum/physync/internal/transport"
)

var ErrNotFound = errors.New("storage: run not found")

var traceHeader = []string{"time", "owner_x", "owner_y", "owner_z", "replica_x", "replica_y", "replica_z", "error", "status"}

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID          string              `json:"id"`
	Preset      string              `json:"preset"`
	Mode        string              `json:"mode"`
	Timestamp   time.Time           `json:"timestamp"`
	Seed        uint64              `json:"seed"`
	FixedDt     float64             `json:"fixed_dt"`
	Duration    float64             `json:"duration"`
	Bodies      int                 `json:"bodies"`
	BufferDepth int                 `json:"buffer_depth"`
	FrameSkip   int                 `json:"frame_skip"`
	Latency     float64             `json:"latency"`
	Jitter      float64             `json:"jitter"`
	Loss        float64             `json:"loss"`
	Metrics     map[string]float64  `json:"metrics"`
	BatchesSent int                 `json:"batches_sent"`
	BytesSent   int                 `json:"bytes_sent"`
	Link        transport.LinkStats `json:"link"`
}

// Save writes metadata.json and trace.csv under a new run directory and
// returns the run id. ID and Timestamp are filled in when empty.
func (s *Store) Save(meta RunMetadata, result *sim.Result) (string, error) {
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	meta.Mode = result.Mode
	meta.Metrics = result.Metrics
	meta.BatchesSent = result.BatchesSent
	meta.BytesSent = result.BytesSent
	meta.Link = result.Link

	runDir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(runDir, "trace.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	if err := w.Write(traceHeader); err != nil {
		return "", err
	}
	for _, p := range result.Trace {
		row := []string{formatFloat(p.Time)}
		for _, v := range p.Owner {
			row = append(row, formatFloat(v))
		}
		for _, v := range p.Replica {
			row = append(row, formatFloat(v))
		}
		row = append(row, formatFloat(p.Error), p.Status)
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}

	return meta.ID, nil
}

// List returns every readable run, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	slices.SortFunc(runs, func(a, b RunMetadata) int { return b.Timestamp.Compare(a.Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", runID, err)
	}
	return &meta, nil
}

// LoadTrace reads trace.csv. Malformed rows are skipped.
func (s *Store) LoadTrace(runID string) ([]sim.TracePoint, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, "trace.csv"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return []sim.TracePoint{}, nil
	}

	trace := make([]sim.TracePoint, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != len(traceHeader) {
			continue
		}
		var vals [8]float64
		ok := true
		for i := range vals {
			v, err := strconv.ParseFloat(rec[i], 64)
			if err != nil {
				ok = false
				break
			}
			vals[i] = v
		}
		if !ok {
			continue
		}
		trace = append(trace, sim.TracePoint{
			Time:    vals[0],
			Owner:   [3]float64{vals[1], vals[2], vals[3]},
			Replica: [3]float64{vals[4], vals[5], vals[6]},
			Error:   vals[7],
			Status:  rec[8],
		})
	}
	return trace, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
