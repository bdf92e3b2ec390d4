package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/triangulate/internal/ir"
)

// DefaultConcurrency bounds how many files are parsed at once.
const DefaultConcurrency = 4

// Options configures a Collector.
type Options struct {
	// Prefix and Suffix select log files in a directory.
	Prefix string
	Suffix string
	// DefaultKind applies to lines without a kind tag.
	DefaultKind Kind
	// KeyField names the identity field of observations.
	KeyField string
	// OriginFromFilename infers origins from the file stem instead of the
	// producer-name heuristic.
	OriginFromFilename bool
	// Concurrency bounds parallel file parsing. Zero means DefaultConcurrency.
	Concurrency int
	// Reverse schedules files in reverse name order. The returned Batch is
	// identical either way.
	Reverse bool
}

// NoInputError is returned when a directory holds no matching logs.
type NoInputError struct {
	Dir     string
	Pattern string
}

func (e *NoInputError) Error() string {
	return fmt.Sprintf("no files matching %s found in %s", e.Pattern, e.Dir)
}

// IsNoInput reports whether err is a NoInputError.
func IsNoInput(err error) bool {
	var target *NoInputError
	return errors.As(err, &target)
}

// Batch is everything read from one set of logs, in (file, line) order.
type Batch struct {
	Files []string
	// LinesTotal counts non-blank, non-comment lines.
	LinesTotal int
	Records    []Record
	Malformed  []Malformed
	// InferredOrigins counts observations whose origin came from a file name.
	InferredOrigins int
}

// Observations returns the observation records in order.
func (b *Batch) Observations() []Observation {
	var out []Observation
	for _, r := range b.Records {
		if o, ok := r.(Observation); ok {
			out = append(out, o)
		}
	}
	return out
}

// DroppedCount counts lines skipped for a missing identity.
func (b *Batch) DroppedCount() int {
	n := 0
	for _, m := range b.Malformed {
		if m.MissingKey {
			n++
		}
	}
	return n
}

// Collector reads producer logs into a Batch.
type Collector struct {
	opts   Options
	logger *slog.Logger
}

// NewCollector creates a Collector. A nil logger discards diagnostics.
func NewCollector(opts Options, logger *slog.Logger) *Collector {
	if opts.Suffix == "" {
		opts.Suffix = ".jsonl"
	}
	if opts.KeyField == "" {
		opts.KeyField = "name"
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Collector{opts: opts, logger: logger}
}

// Discover lists matching files in dir, sorted by name.
func (c *Collector) Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, c.opts.Prefix) || !strings.HasSuffix(name, c.opts.Suffix) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	slices.Sort(files)
	if len(files) == 0 {
		return nil, &NoInputError{Dir: dir, Pattern: c.opts.Prefix + "*" + c.opts.Suffix}
	}
	return files, nil
}

// Collect discovers and reads every matching log in dir.
func (c *Collector) Collect(ctx context.Context, dir string) (*Batch, error) {
	files, err := c.Discover(dir)
	if err != nil {
		return nil, err
	}
	return c.CollectFiles(ctx, files)
}

type fileResult struct {
	lines     int
	records   []Record
	malformed []Malformed
	inferred  int
}

// CollectFiles reads the given files. They are parsed concurrently and
// reassembled in sorted name order.
func (c *Collector) CollectFiles(ctx context.Context, files []string) (*Batch, error) {
	files = slices.Clone(files)
	slices.Sort(files)

	schedule := make([]int, len(files))
	for i := range schedule {
		schedule[i] = i
	}
	if c.opts.Reverse {
		slices.Reverse(schedule)
	}

	results := make([]fileResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for _, i := range schedule {
		g.Go(func() error {
			res, err := c.parseFile(gctx, files[i])
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	batch := &Batch{Files: files}
	for _, res := range results {
		batch.LinesTotal += res.lines
		batch.Records = append(batch.Records, res.records...)
		batch.Malformed = append(batch.Malformed, res.malformed...)
		batch.InferredOrigins += res.inferred
	}
	for _, m := range batch.Malformed {
		c.logger.Warn("skipped line", "source", m.Source.String(), "reason", m.Reason)
	}
	c.logger.Debug("collected logs",
		"files", len(files),
		"records", len(batch.Records),
		"malformed", len(batch.Malformed))
	return batch, nil
}

func (c *Collector) parseFile(ctx context.Context, path string) (fileResult, error) {
	var res fileResult
	if err := ctx.Err(); err != nil {
		return res, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}

	opts := DecodeOptions{
		DefaultKind: c.opts.DefaultKind,
		KeyField:    c.opts.KeyField,
		FileOrigin:  InferOrigin(path, c.opts.Prefix, c.opts.OriginFromFilename),
	}

	for i, raw := range bytes.Split(data, []byte{'\n'}) {
		line := bytes.TrimSpace(raw)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		res.lines++
		src := SourceRef{File: path, Line: i + 1}

		obj, err := ir.DecodeObject(line)
		if err != nil {
			res.malformed = append(res.malformed, Malformed{
				Source: src,
				Reason: "invalid JSON: " + err.Error(),
				Raw:    string(line),
			})
			continue
		}

		rec, err := Decode(obj, src, opts)
		if err != nil {
			var missing *MissingKeyError
			res.malformed = append(res.malformed, Malformed{
				Source:     src,
				Reason:     err.Error(),
				Raw:        string(line),
				MissingKey: errors.As(err, &missing),
			})
			continue
		}
		if o, ok := rec.(Observation); ok && o.OriginInferred {
			res.inferred++
		}
		res.records = append(res.records, rec)
	}
	return res, nil
}
