// Package metrics collects a per-run report for the CLI and the worker.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/efebarandurmaz/whetstone/internal/indexer"
	"github.com/efebarandurmaz/whetstone/internal/retrieve"
)

// RunMetrics collects statistics for one command or workflow run.
type RunMetrics struct {
	Command    string          `json:"command" yaml:"command"`
	StartedAt  time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time       `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Duration   time.Duration   `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
	Index      *IndexMetrics   `json:"index,omitempty" yaml:"index,omitempty"`
	Retrieval  *RetrievalStats `json:"retrieval,omitempty" yaml:"retrieval,omitempty"`
	Stages     []StageMetrics  `json:"stages" yaml:"stages"`
	Errors     []string        `json:"errors,omitempty" yaml:"errors,omitempty"`
}

type IndexMetrics struct {
	Repo      string `json:"repo" yaml:"repo"`
	Cleared   int    `json:"cleared" yaml:"cleared"`
	Files     int    `json:"files" yaml:"files"`
	Skipped   int    `json:"skipped" yaml:"skipped"`
	Failed    int    `json:"failed" yaml:"failed"`
	Units     int    `json:"units" yaml:"units"`
	Redacted  int    `json:"redacted,omitempty" yaml:"redacted,omitempty"`
	Unchanged int    `json:"unchanged,omitempty" yaml:"unchanged,omitempty"`
	Removed   int    `json:"removed,omitempty" yaml:"removed,omitempty"`
}

type RetrievalStats struct {
	ChangedFiles int     `json:"changed_files" yaml:"changed_files"`
	Hunks        int     `json:"hunks" yaml:"hunks"`
	Patterns     int     `json:"patterns" yaml:"patterns"`
	Related      int     `json:"related" yaml:"related"`
	BestScore    float64 `json:"best_score" yaml:"best_score"`
}

type StageMetrics struct {
	Name     string        `json:"name" yaml:"name"`
	Duration time.Duration `json:"duration_ms" yaml:"duration_ms"`
	Errors   int           `json:"errors" yaml:"errors"`
}

// New starts tracking a run.
func New(command string) *RunMetrics {
	return &RunMetrics{Command: command, StartedAt: time.Now()}
}

// CollectIndex records the outcome of an indexing run.
func (m *RunMetrics) CollectIndex(s indexer.Stats) {
	m.Index = &IndexMetrics{
		Repo:      s.Repo,
		Cleared:   s.Cleared,
		Files:     s.Files,
		Skipped:   s.Skipped,
		Failed:    s.Failed,
		Units:     s.Units,
		Redacted:  s.Redacted,
		Unchanged: s.Unchanged,
		Removed:   s.Removed,
	}
}

// CollectRetrieval records what was retrieved for a set of changes.
func (m *RunMetrics) CollectRetrieval(changedFiles, hunks int, k *retrieve.Knowledge) {
	r := &RetrievalStats{ChangedFiles: changedFiles, Hunks: hunks}
	if k != nil {
		r.Patterns = len(k.Patterns)
		r.Related = len(k.Related)
		if len(k.Patterns) > 0 {
			r.BestScore = k.Patterns[0].Similarity
		}
	}
	m.Retrieval = r
}

// AddStage records a single stage's timing and error count.
func (m *RunMetrics) AddStage(name string, d time.Duration, errCount int) {
	m.Stages = append(m.Stages, StageMetrics{Name: name, Duration: d, Errors: errCount})
}

// Time runs fn as a named stage.
func (m *RunMetrics) Time(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	errs := 0
	if err != nil {
		errs = 1
		m.Errors = append(m.Errors, fmt.Sprintf("%s: %v", name, err))
	}
	m.AddStage(name, time.Since(start), errs)
	return err
}

// Finish marks the run as complete.
func (m *RunMetrics) Finish() {
	m.FinishedAt = time.Now()
	m.Duration = m.FinishedAt.Sub(m.StartedAt)
}

// PrintSummary writes a human-readable summary.
func (m *RunMetrics) PrintSummary(w io.Writer) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle("WHETSTONE " + m.Command)
	tbl.AppendRow(table.Row{"Duration", m.Duration.Round(time.Millisecond)})

	if ix := m.Index; ix != nil {
		tbl.AppendSeparator()
		tbl.AppendRow(table.Row{"Repository", ix.Repo})
		tbl.AppendRow(table.Row{"Cleared entries", ix.Cleared})
		tbl.AppendRow(table.Row{"Files indexed", ix.Files})
		tbl.AppendRow(table.Row{"Files skipped", ix.Skipped})
		tbl.AppendRow(table.Row{"Files failed", ix.Failed})
		tbl.AppendRow(table.Row{"Units", ix.Units})
		if ix.Unchanged > 0 || ix.Removed > 0 {
			tbl.AppendRow(table.Row{"Files unchanged", ix.Unchanged})
			tbl.AppendRow(table.Row{"Files removed", ix.Removed})
		}
		if ix.Redacted > 0 {
			tbl.AppendRow(table.Row{"Redacted spans", ix.Redacted})
		}
	}
	if r := m.Retrieval; r != nil {
		tbl.AppendSeparator()
		tbl.AppendRow(table.Row{"Changed files", r.ChangedFiles})
		tbl.AppendRow(table.Row{"Hunks", r.Hunks})
		tbl.AppendRow(table.Row{"Similar patterns", r.Patterns})
		tbl.AppendRow(table.Row{"Related files", r.Related})
		tbl.AppendRow(table.Row{"Best similarity", fmt.Sprintf("%.3f", r.BestScore)})
	}
	if len(m.Stages) > 0 {
		tbl.AppendSeparator()
		for _, s := range m.Stages {
			status := "OK"
			if s.Errors > 0 {
				status = fmt.Sprintf("%d errors", s.Errors)
			}
			tbl.AppendRow(table.Row{s.Name, fmt.Sprintf("%s  %s", s.Duration.Round(time.Millisecond), status)})
		}
	}
	if len(m.Errors) > 0 {
		tbl.AppendSeparator()
		for _, e := range m.Errors {
			tbl.AppendRow(table.Row{"Error", e})
		}
	}
	tbl.Render()
}

// JSON returns the metrics as formatted JSON.
func (m *RunMetrics) JSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
