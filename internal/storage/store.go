package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/pidloop/internal/dynamo"
	"github.com/san-kum/pidloop/internal/pid"
)

const (
	metadataFile = "metadata.json"
	samplesFile  = "run.csv"
)

var ErrRunNotFound = errors.New("storage: run not found")

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// RunMetadata describes how a run was produced and how it scored.
type RunMetadata struct {
	ID           string             `json:"id"`
	Plant        string             `json:"plant"`
	Timestamp    time.Time          `json:"timestamp"`
	Seed         int64              `json:"seed"`
	Dt           float64            `json:"dt"`
	Duration     float64            `json:"duration"`
	Integrator   string             `json:"integrator"`
	Gains        pid.Gains          `json:"gains"`
	Lower        int32              `json:"lower"`
	Upper        int32              `json:"upper"`
	Deadzone     float64            `json:"deadzone"`
	AntiKickback bool               `json:"anti_kickback"`
	TimeUnit     string             `json:"time_unit"`
	Metrics      map[string]float64 `json:"metrics"`
}

// Run holds the per-sample signals of a stored run.
type Run struct {
	Times    []float64 `json:"times"`
	Setpoint []float64 `json:"setpoint"`
	PV       []float64 `json:"pv"`
	Output   []float64 `json:"output"`
}

// Save writes the metadata and one CSV row per controller sample. The ID
// and Timestamp fields of meta are filled in and the ID is returned.
func (s *Store) Save(meta RunMetadata, result *dynamo.Result) (string, error) {
	now := time.Now()
	meta.ID = fmt.Sprintf("%s_%d", meta.Plant, now.UnixNano())
	meta.Timestamp = now
	meta.Metrics = result.Metrics

	runDir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(runDir, samplesFile))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	if err := WriteCSV(csvFile, result); err != nil {
		return "", fmt.Errorf("write samples: %w", err)
	}

	return meta.ID, csvFile.Close()
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteCSV writes time, setpoint, pv, output and the plant state for every
// controller sample in result.
func WriteCSV(w io.Writer, result *dynamo.Result) error {
	cw := csv.NewWriter(w)

	header := []string{"time", "setpoint", "pv", "output"}
	if len(result.States) > 0 {
		for i := range result.States[0] {
			header = append(header, fmt.Sprintf("x%d", i))
		}
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for i := range result.Controls {
		row := []string{
			formatFloat(result.Times[i]),
			formatFloat(result.Setpoints[i]),
			formatFloat(result.Measured[i]),
			formatFloat(result.Controls[i].First()),
		}
		for _, val := range result.States[i] {
			row = append(row, formatFloat(val))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// List returns every readable run, oldest first. Directories without valid
// metadata are skipped.
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

	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode %s metadata: %w", runID, err)
	}

	return &meta, nil
}

// CopySamples streams the stored CSV of a run to w unchanged.
func (s *Store) CopySamples(runID string, w io.Writer) error {
	file, err := os.Open(filepath.Join(s.baseDir, runID, samplesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return err
	}
	defer file.Close()

	_, err = io.Copy(w, file)
	return err
}

func (s *Store) LoadRun(runID string) (*Run, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, samplesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
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

	run := &Run{}
	if len(records) < 2 {
		return run, nil
	}

	for line, record := range records[1:] {
		if len(record) < 4 {
			return nil, fmt.Errorf("%s line %d: expected at least 4 columns, got %d", runID, line+2, len(record))
		}
		vals := make([]float64, 4)
		for j := range vals {
			if vals[j], err = strconv.ParseFloat(record[j], 64); err != nil {
				return nil, fmt.Errorf("%s line %d: %w", runID, line+2, err)
			}
		}
		run.Times = append(run.Times, vals[0])
		run.Setpoint = append(run.Setpoint, vals[1])
		run.PV = append(run.PV, vals[2])
		run.Output = append(run.Output, vals[3])
	}

	return run, nil
}
