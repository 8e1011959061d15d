package inbox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestParse_PreservesOrder(t *testing.T) {
	t.Parallel()

	doc := `
items:
  - id: "1000"
    sender: user1@example.com
    subject: Flash Sale!
    body: Buy one get one free on all office supplies.
  - id: "1001"
    sender: user2@example.com
    subject: "Urgent: Project Alpha Update?"
    body: Clients are asking about the downtime. What do I tell them?
`
	items, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	if items[0].ID != "1000" || items[1].ID != "1001" {
		t.Errorf("ids = %q, %q, want 1000, 1001", items[0].ID, items[1].ID)
	}
	if items[1].Subject != "Urgent: Project Alpha Update?" {
		t.Errorf("subject = %q", items[1].Subject)
	}
}

func TestParse_DerivesStableIDs(t *testing.T) {
	t.Parallel()

	doc := []byte(`
items:
  - {sender: a@example.com, subject: a, received_at: 2026-10-17T09:00:00Z}
  - {sender: a@example.com, subject: a, received_at: 2026-10-17T09:00:00Z}
  - {subject: no timestamp}
`)
	first, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	second, err := Parse(doc)
	if err != nil {
		t.Fatalf("second Parse: %v", err)
	}

	for i := range first {
		if first[i].ID == "" {
			t.Fatalf("item %d has no id", i)
		}
		if first[i].ID != second[i].ID {
			t.Errorf("item %d id changed between loads: %q then %q", i, first[i].ID, second[i].ID)
		}
		if _, err := ulid.ParseStrict(first[i].ID); err != nil {
			t.Errorf("item %d id %q is not a ULID: %v", i, first[i].ID, err)
		}
	}
	if first[0].ID == first[1].ID {
		t.Errorf("identical items at different positions share id %q", first[0].ID)
	}
	if got := ulid.MustParse(first[0].ID).Time(); got != uint64(time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC).UnixMilli()) {
		t.Errorf("id time = %d, want the received time", got)
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		doc     string
		wantSub string
	}{
		{"duplicate id", "items:\n  - {id: x, subject: a}\n  - {id: x, subject: b}\n", "duplicate id"},
		{"empty item", "items:\n  - {id: x, sender: s}\n", "both empty"},
		{"bad yaml", "items: [", "decode inbox"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error = %q, want substring %q", err, tt.wantSub)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "inbox.yaml")
	if err := os.WriteFile(path, []byte("items:\n  - {id: a, subject: hi}\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	items, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(items) != 1 || items[0].ID != "a" {
		t.Errorf("items = %+v", items)
	}
}
