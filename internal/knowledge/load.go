package knowledge

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type baseFile struct {
	CaseSensitive bool    `yaml:"case_sensitive"`
	Year          int     `yaml:"year"`
	Style         string  `yaml:"style"`
	Tags          *Tags   `yaml:"tags"`
	Entries       []Entry `yaml:"entries"`
}

// Load reads a knowledge base from YAML. Entries are a sequence so the file
// order is the detection order.
func Load(path string, year int) (*Base, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}
	return Parse(data, year)
}

// Parse decodes a knowledge base document. A year set in the document wins
// over the year argument; tags default to DefaultTags when omitted.
func Parse(data []byte, year int) (*Base, error) {
	var f baseFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode knowledge base: %w", err)
	}
	for i, e := range f.Entries {
		if normalizeTopic(e.Topic) == "" {
			return nil, fmt.Errorf("knowledge entry %d: empty topic", i)
		}
	}

	kb := &Base{
		Entries:       f.Entries,
		Tags:          DefaultTags(),
		Style:         f.Style,
		CaseSensitive: f.CaseSensitive,
		Year:          year,
	}
	if f.Tags != nil {
		kb.Tags = *f.Tags
	}
	if f.Year != 0 {
		kb.Year = f.Year
	}
	return kb, nil
}

// Default returns the built-in demo knowledge base.
func Default(year int) *Base {
	return &Base{
		Entries: []Entry{
			{"Project Alpha", "STATUS: CRITICAL. Server migration failed. Rollback in progress. ETA 2:00 PM."},
			{"Software Licenses", "POLICY: Expenses >$20k require CFO approval. Forward to finance@company.com."},
			{"Merger", "POLICY: STRICT NO COMMENT. Forward inquiries to VP of Comms."},
			{"Q3 Budget", "DATA: Q3 Marketing Budget remaining is $15,000. Travel budget is depleted."},
			{"Hiring Freeze", "ACTIVE POLICY: No new FTE hires until Q1. Contractors are allowed for critical projects."},
			{"Remote Work", "OLD POLICY: Fully remote for all staff."},
		},
		Tags:  DefaultTags(),
		Style: "Professional, decisive, and brief. No fluff. Sign off with 'Best, [Your Name]'.",
		Year:  year,
	}
}
