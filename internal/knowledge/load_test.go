package knowledge

import (
	"testing"
)

func TestParse_OrderAndTags(t *testing.T) {
	t.Parallel()

	doc := `
style: Be brief.
tags:
  active: ["NOW"]
  superseded: ["STALE"]
entries:
  - topic: Zeta
    fact: NOW zeta
  - topic: Alpha
    fact: alpha
`
	kb, err := Parse([]byte(doc), 2026)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(kb.Entries) != 2 || kb.Entries[0].Topic != "Zeta" || kb.Entries[1].Topic != "Alpha" {
		t.Errorf("entries = %+v, want file order", kb.Entries)
	}
	if kb.Style != "Be brief." {
		t.Errorf("style = %q", kb.Style)
	}
	if kb.Year != 2026 {
		t.Errorf("year = %d, want 2026", kb.Year)
	}

	got := Match("zeta and alpha", kb)
	if len(got.Facts) != 2 || got.Facts[0] != "ACTIVE FACT: NOW zeta" {
		t.Errorf("facts = %v", got.Facts)
	}
}

func TestParse_DefaultTagsAndYearOverride(t *testing.T) {
	t.Parallel()

	kb, err := Parse([]byte("year: 2030\nentries:\n  - {topic: a, fact: b}\n"), 2026)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if kb.Year != 2030 {
		t.Errorf("year = %d, want 2030", kb.Year)
	}
	if len(kb.Tags.Superseded) == 0 {
		t.Error("expected default tags")
	}
}

func TestParse_EmptyTopic(t *testing.T) {
	t.Parallel()

	if _, err := Parse([]byte("entries:\n  - {topic: '(x)', fact: b}\n"), 0); err == nil {
		t.Fatal("expected error for topic that normalizes to empty")
	}
}
