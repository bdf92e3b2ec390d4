package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/triangulate/internal/ingest"
	"github.com/roach88/triangulate/internal/ir"
	"github.com/roach88/triangulate/internal/replay"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestComponent creates an API component command at line.
func createTestComponent(t *testing.T, name string, line int) replay.Command {
	t.Helper()
	cmd, err := replay.FromRecord(ingest.Component{
		Type:       "API",
		Domain:     "orders",
		Module:     "checkout",
		Name:       name,
		Repository: "shop",
		FilePath:   "src/api.ts",
		LineNumber: int64(line),
		Attributes: ir.Object{"httpMethod": ir.String("POST")},
		Source:     ingest.SourceRef{File: "staged-components-1.jsonl", Line: line},
	})
	if err != nil {
		t.Fatalf("FromRecord() failed: %v", err)
	}
	return cmd
}

// createTestLink creates a link command from one component to another.
func createTestLink(t *testing.T, from, toName string, line int) replay.Command {
	t.Helper()
	cmd, err := replay.FromRecord(ingest.Link{
		From:     from,
		ToDomain: "orders",
		ToModule: "checkout",
		ToType:   "API",
		ToName:   toName,
		LinkType: "sync",
		Source:   ingest.SourceRef{File: "staged-links-1.jsonl", Line: line},
	})
	if err != nil {
		t.Fatalf("FromRecord() failed: %v", err)
	}
	return cmd
}
