// Package inbox defines the inbound message queue consumed by the triage engine.
package inbox

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"
)

// Item is one inbound message. Items are never mutated after Load returns them.
type Item struct {
	ID         string    `json:"id" yaml:"id"`
	Sender     string    `json:"sender" yaml:"sender"`
	Subject    string    `json:"subject" yaml:"subject"`
	Body       string    `json:"body" yaml:"body"`
	ReceivedAt time.Time `json:"received_at" yaml:"received_at"`
}

type file struct {
	Items []Item `yaml:"items"`
}

// Load reads an ordered inbox from a YAML file. Items without an id get a
// ULID derived from their position and headers, so reloading the same file
// yields the same ids.
func Load(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	return Parse(data)
}

// Parse decodes an inbox document and validates ids are unique.
func Parse(data []byte) ([]Item, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode inbox: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Items))
	items := make([]Item, 0, len(f.Items))
	for i, it := range f.Items {
		if it.ID == "" {
			id, err := derivedID(i, it)
			if err != nil {
				return nil, fmt.Errorf("inbox item %d: %w", i, err)
			}
			it.ID = id
		}
		if _, dup := seen[it.ID]; dup {
			return nil, fmt.Errorf("inbox item %d: duplicate id %q", i, it.ID)
		}
		if it.Subject == "" && it.Body == "" {
			return nil, fmt.Errorf("inbox item %d (%s): %w", i, it.ID, errEmptyItem)
		}
		seen[it.ID] = struct{}{}
		items = append(items, it)
	}
	return items, nil
}

var errEmptyItem = errors.New("subject and body are both empty")

// derivedID builds a ULID from the received time and a hash of the item's
// position and headers.
func derivedID(pos int, it Item) (string, error) {
	var ms uint64
	if !it.ReceivedAt.IsZero() && it.ReceivedAt.Unix() > 0 {
		ms = ulid.Timestamp(it.ReceivedAt)
	}
	sum := sha256.Sum256(fmt.Appendf(nil, "%d\x00%s\x00%s\x00%s",
		pos, it.Sender, it.Subject, it.ReceivedAt.UTC().Format(time.RFC3339Nano)))
	id, err := ulid.New(ms, bytes.NewReader(sum[:]))
	if err != nil {
		return "", fmt.Errorf("derive id: %w", err)
	}
	return id.String(), nil
}
