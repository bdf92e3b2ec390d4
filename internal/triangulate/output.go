package triangulate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/triangulate/internal/identity"
	"github.com/roach88/triangulate/internal/ingest"
	"github.com/roach88/triangulate/internal/ir"
)

// ToObject renders r as the object written to the consolidated log.
func (r CanonicalRecord) ToObject() ir.Object {
	origins := make(ir.Array, len(r.Origins))
	for i, o := range r.Origins {
		origins[i] = ir.String(o)
	}
	conflicts := make(ir.Array, len(r.Conflicts))
	for i, c := range r.Conflicts {
		values := make(ir.Object, len(c.Values))
		for origin, v := range c.Values {
			values[origin] = v
		}
		conflicts[i] = ir.Object{"field": ir.String(c.Field), "values": values}
	}
	return ir.Object{
		"name":       ir.String(r.Name),
		"confidence": ir.String(string(r.Confidence)),
		"origins":    origins,
		"data":       r.Data,
		"conflicts":  conflicts,
	}
}

// RecordFromObject parses one consolidated log line back into a record.
// Key is recomputed from the name; sources are not part of the log.
func RecordFromObject(obj ir.Object) (CanonicalRecord, error) {
	name := ir.StringOf(obj["name"])
	if name == "" {
		return CanonicalRecord{}, fmt.Errorf("record has no name")
	}
	conf, err := ParseConfidence(ir.StringOf(obj["confidence"]))
	if err != nil {
		return CanonicalRecord{}, err
	}
	data, ok := obj["data"].(ir.Object)
	if !ok {
		return CanonicalRecord{}, fmt.Errorf("record %q has no data object", name)
	}

	rec := CanonicalRecord{
		Name:       name,
		Key:        identity.Normalize(name),
		Confidence: conf,
		Origins:    ir.Strings(obj["origins"]),
		Data:       data,
	}
	if arr, ok := obj["conflicts"].(ir.Array); ok {
		for i, elem := range arr {
			c, ok := elem.(ir.Object)
			if !ok {
				return CanonicalRecord{}, fmt.Errorf("record %q: conflicts[%d] is not an object", name, i)
			}
			values, _ := c["values"].(ir.Object)
			rec.Conflicts = append(rec.Conflicts, Conflict{
				Field:  ir.StringOf(c["field"]),
				Values: values,
			})
		}
	}
	return rec, nil
}

// EncodeJSONL renders records as canonical JSON lines. The bytes depend only
// on the records.
func EncodeJSONL(records []CanonicalRecord) ([]byte, error) {
	var buf bytes.Buffer
	for _, rec := range records {
		line, err := ir.MarshalCanonical(rec.ToObject())
		if err != nil {
			return nil, fmt.Errorf("encode record %q: %w", rec.Name, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// WriteJSONL writes the consolidated log to w.
func WriteJSONL(w io.Writer, records []CanonicalRecord) error {
	data, err := EncodeJSONL(records)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Report summarises one consolidation run.
type Report struct {
	GeneratedAt       string                   `json:"generatedAt"`
	InputDir          string                   `json:"inputDir"`
	OutputPath        string                   `json:"outputPath"`
	DryRun            bool                     `json:"dryRun"`
	FilesProcessed    []string                 `json:"filesProcessed"`
	TotalObservations int                      `json:"totalObservations"`
	UniqueIdentities  int                      `json:"uniqueIdentities"`
	HighConfidence    int                      `json:"highConfidence"`
	MediumConfidence  int                      `json:"mediumConfidence"`
	LowConfidence     int                      `json:"lowConfidence"`
	Contradictions    int                      `json:"contradictions"`
	NearDuplicates    []identity.NearDuplicate `json:"nearDuplicates"`
	ReviewQueue       []string                 `json:"reviewQueue"`
	InferredOrigins   int                      `json:"inferredOrigins"`
	Malformed         []ingest.Malformed       `json:"malformed"`
	OutputHash        string                   `json:"outputHash"`
}

// ReportInput carries the run facts a Report needs beyond the Result.
type ReportInput struct {
	InputDir   string
	OutputPath string
	DryRun     bool
	Now        time.Time
}

// NewReport builds the report for a batch and its consolidation.
func NewReport(batch *ingest.Batch, res *Result, output []byte, in ReportInput) Report {
	high, medium, low, conflicted := res.Counts()

	malformed := append([]ingest.Malformed{}, batch.Malformed...)
	malformed = append(malformed, res.Dropped...)

	nearDups := res.NearDuplicates
	if nearDups == nil {
		nearDups = []identity.NearDuplicate{}
	}
	review := res.ReviewQueue()
	if review == nil {
		review = []string{}
	}

	return Report{
		GeneratedAt:       in.Now.UTC().Format(time.RFC3339),
		InputDir:          in.InputDir,
		OutputPath:        in.OutputPath,
		DryRun:            in.DryRun,
		FilesProcessed:    batch.Files,
		TotalObservations: res.Observations,
		UniqueIdentities:  len(res.Records),
		HighConfidence:    high,
		MediumConfidence:  medium,
		LowConfidence:     low,
		Contradictions:    conflicted,
		NearDuplicates:    nearDups,
		ReviewQueue:       review,
		InferredOrigins:   batch.InferredOrigins,
		Malformed:         malformed,
		OutputHash:        ir.OutputHash(output),
	}
}

// ReportFileName is written next to the consolidated log.
const ReportFileName = "triangulation-report.json"

// WriteReport writes report as indented JSON.
func WriteReport(path string, report any) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
