package model

import "time"

// RunStatus represents the current state of a fusion run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run records one execution of the fusion pipeline.
type Run struct {
	ID            string    `json:"id"`
	Geography     Geography `json:"geography"`
	Status        RunStatus `json:"status"`
	Counties      int       `json:"counties"`
	Units         int       `json:"units"`
	Neighborhoods int       `json:"neighborhoods"`
	CSVPath       string    `json:"csv_path,omitempty"`
	GeoJSONPath   string    `json:"geojson_path,omitempty"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// FetchFailure is a county whose unit fetch exhausted its retries during a
// run. Failures are terminal for the run that hit them; they are kept so
// operators can see which counties ran with reduced coverage.
type FetchFailure struct {
	ID        string    `json:"id"`
	County    County    `json:"county"`
	Geography Geography `json:"geography"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	FailedAt  time.Time `json:"failed_at"`
}
