// Package report renders an export run's outcome: a JSON document written
// to disk for operators and machines, and a console summary table.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cometsec/comet/internal/message"
	"github.com/cometsec/comet/pkg/azure"
	"github.com/cometsec/comet/pkg/types"
)

// Document is the serializable form of a run result. Errors are flattened
// into message plus classification so the report stands on its own.
type Document struct {
	ExportID          string        `json:"exportId"`
	TenantID          string        `json:"tenantId"`
	TenantName        string        `json:"tenantName"`
	Success           bool          `json:"success"`
	StartTime         time.Time     `json:"startTime"`
	DurationMillis    int64         `json:"durationMillis"`
	LastSuccessfulRun *time.Time    `json:"lastSuccessfulRun,omitempty"`
	FailedScopes      int           `json:"failedScopes"`
	Stats             types.Stats   `json:"stats"`
	Scopes            []ScopeReport `json:"scopes"`
}

// ScopeReport is the per-scope breakdown.
type ScopeReport struct {
	Scope          types.Scope    `json:"scope"`
	Success        bool           `json:"success"`
	DurationMillis int64          `json:"durationMillis"`
	Stats          types.Stats    `json:"stats"`
	Error          *Failure       `json:"error,omitempty"`
	Entities       []EntityReport `json:"entities"`
}

// EntityReport is the per-entity breakdown within a scope.
type EntityReport struct {
	Entity         string      `json:"entity"`
	Success        bool        `json:"success"`
	DurationMillis int64       `json:"durationMillis"`
	Stats          types.Stats `json:"stats"`
	OversizedIDs   []string    `json:"oversizedRecordIds,omitempty"`
	Error          *Failure    `json:"error,omitempty"`
}

// Failure carries an error with its classification, so a reader can tell a
// permission problem from a flaky network without parsing messages.
type Failure struct {
	Message     string `json:"message"`
	Category    string `json:"category"`
	Fatal       bool   `json:"fatal"`
	Retryable   bool   `json:"retryable"`
	Remediation string `json:"remediation,omitempty"`
}

func failureOf(err error) *Failure {
	if err == nil {
		return nil
	}
	c := azure.Classify(err)
	return &Failure{
		Message:     err.Error(),
		Category:    string(c.Category),
		Fatal:       c.Fatal,
		Retryable:   c.Retryable,
		Remediation: c.Remediation,
	}
}

// New flattens a run result into a report document.
func New(result types.RunResult) Document {
	doc := Document{
		ExportID:       result.ExportID,
		TenantID:       result.TenantID,
		TenantName:     result.TenantName,
		Success:        result.Success(),
		StartTime:      result.StartTime,
		DurationMillis: result.Duration.Milliseconds(),
		FailedScopes:   result.FailedScopes(),
		Stats:          result.Stats,
	}
	if !result.LastSuccessfulRun.IsZero() {
		t := result.LastSuccessfulRun
		doc.LastSuccessfulRun = &t
	}

	for _, s := range result.Scopes {
		sr := ScopeReport{
			Scope:          s.Scope,
			Success:        s.Success,
			DurationMillis: s.Duration.Milliseconds(),
			Stats:          s.Stats,
			Error:          failureOf(s.Err),
		}
		for _, e := range s.Entities {
			sr.Entities = append(sr.Entities, EntityReport{
				Entity:         e.Entity,
				Success:        e.Success,
				DurationMillis: e.Duration.Milliseconds(),
				Stats:          e.Stats,
				OversizedIDs:   e.OversizedIDs,
				Error:          failureOf(e.Err),
			})
		}
		doc.Scopes = append(doc.Scopes, sr)
	}
	return doc
}

// Write stores the document as indented JSON at path, creating parent
// directories as needed.
func (d Document) Write(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return err
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(d); err != nil {
		return err
	}

	message.Success("Run report written to %s", path)
	return nil
}

// Print renders the per-scope outcome table and any operator warnings on
// the console.
func (d Document) Print() {
	message.Section("Export %s", d.ExportID)
	message.Info("Tenant: %s (%s)", d.TenantName, d.TenantID)
	if d.LastSuccessfulRun != nil {
		message.Info("Previous successful run: %s", d.LastSuccessfulRun.Format(time.RFC3339))
	}

	for _, s := range d.Scopes {
		line := fmt.Sprintf("%-12s %-38s processed=%d failed=%d batches=%d bytes=%d",
			s.Scope.Kind, s.Scope.ID(), s.Stats.Processed, s.Stats.Failed, s.Stats.Batches, s.Stats.PayloadBytes)
		if s.Success {
			message.Success("%s", line)
			continue
		}
		message.Error("%s", line)
		if s.Error != nil {
			message.Error("    %s: %s", s.Error.Category, s.Error.Message)
			if s.Error.Remediation != "" {
				message.Warning("    remediation: %s", s.Error.Remediation)
			}
		}
	}

	if d.Stats.Oversized > 0 {
		message.Warning("%d record(s) exceeded the batch hard cap and were sent as single-record batches; consider reducing the target batch size", d.Stats.Oversized)
	}

	took := time.Duration(d.DurationMillis) * time.Millisecond
	if d.Success {
		message.Success("Export completed: %d records in %d batches (%s)",
			d.Stats.Processed, d.Stats.Batches, took.Round(time.Millisecond))
	} else {
		message.Error("Export finished with %d failed scope(s) (%s)", d.FailedScopes, took.Round(time.Millisecond))
	}
}
