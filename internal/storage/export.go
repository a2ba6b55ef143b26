package storage

import (
	"encoding/json"
	"io"

	"github.com/san-kum/pidloop/internal/dynamo"
)

type ExportData struct {
	RunMetadata
	Steps    int         `json:"steps"`
	Times    []float64   `json:"times"`
	Setpoint []float64   `json:"setpoint"`
	PV       []float64   `json:"pv"`
	Output   []float64   `json:"output"`
	States   [][]float64 `json:"states,omitempty"`
}

// ExportJSON writes a self-contained JSON document of one run.
func ExportJSON(w io.Writer, meta RunMetadata, result *dynamo.Result) error {
	n := len(result.Controls)
	data := ExportData{
		RunMetadata: meta,
		Steps:       n,
		Times:       result.Times[:n],
		Setpoint:    result.Setpoints,
		PV:          result.Measured,
		Output:      make([]float64, n),
		States:      make([][]float64, len(result.States)),
	}
	data.Metrics = result.Metrics

	for i, c := range result.Controls {
		data.Output[i] = c.First()
	}
	for i, s := range result.States {
		data.States[i] = s
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// ExportRun writes the JSON document of a stored run. Stored runs keep no
// plant state, so States is omitted.
func ExportRun(w io.Writer, meta RunMetadata, run *Run) error {
	data := ExportData{
		RunMetadata: meta,
		Steps:       len(run.Times),
		Times:       run.Times,
		Setpoint:    run.Setpoint,
		PV:          run.PV,
		Output:      run.Output,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
