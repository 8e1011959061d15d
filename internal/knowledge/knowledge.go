// Package knowledge implements the retrieval step used to ground drafted
// replies: a pure substring lookup over an ordered topic -> fact base.
package knowledge

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// NoPolicyFound is the single fact returned when nothing in the base matches.
const NoPolicyFound = "No specific policy found. Relying on standard executive judgment."

const (
	factPrefix       = "FACT: "
	activeFactPrefix = "ACTIVE FACT: "
)

// Entry pairs a topic with the fact it retrieves.
type Entry struct {
	Topic string `yaml:"topic" json:"topic"`
	Fact  string `yaml:"fact" json:"fact"`
}

// Tags is the tagging convention applied to fact text. It is data, so a
// knowledge base can bring its own markers.
type Tags struct {
	// Active markers flag a fact as current policy and set the temporal lock.
	Active []string `yaml:"active" json:"active"`
	// Superseded markers exclude a fact from every match.
	Superseded []string `yaml:"superseded" json:"superseded"`
}

// DefaultTags returns the markers used by the built-in knowledge base.
func DefaultTags() Tags {
	return Tags{
		Active:     []string{"ACTIVE", "CURRENT"},
		Superseded: []string{"OLD POLICY", "SUPERSEDED"},
	}
}

// Base is an ordered knowledge base. Entry order is detection order.
type Base struct {
	Entries []Entry
	Tags    Tags

	// Style is a writing guide handed to the drafter. It never matches.
	Style string

	// CaseSensitive switches topic containment to an exact-case test.
	CaseSensitive bool

	// Year, when non-zero, is also treated as an active marker.
	Year int
}

// Result is the output of Match.
type Result struct {
	Facts        []string `json:"facts"`
	TemporalLock bool     `json:"temporal_lock"`
}

// Match returns the facts whose topic occurs in body, in base order.
// It never fails and has no side effects.
func Match(body string, kb *Base) Result {
	if kb == nil {
		return Result{Facts: []string{NoPolicyFound}}
	}

	haystack := body
	if !kb.CaseSensitive {
		haystack = strings.ToLower(body)
	}

	var res Result
	for _, e := range kb.Entries {
		topic := normalizeTopic(e.Topic)
		if topic == "" {
			continue
		}
		if !kb.CaseSensitive {
			topic = strings.ToLower(topic)
		}
		if !strings.Contains(haystack, topic) {
			continue
		}
		if containsAny(e.Fact, kb.Tags.Superseded) {
			continue
		}
		if kb.isActive(e.Fact) {
			res.TemporalLock = true
			res.Facts = append(res.Facts, activeFactPrefix+e.Fact)
			continue
		}
		res.Facts = append(res.Facts, factPrefix+e.Fact)
	}

	if len(res.Facts) == 0 {
		return Result{Facts: []string{NoPolicyFound}}
	}
	return res
}

func (kb *Base) isActive(fact string) bool {
	if containsAny(fact, kb.Tags.Active) {
		return true
	}
	return kb.Year > 0 && containsWord(fact, strconv.Itoa(kb.Year))
}

// normalizeTopic drops any parenthetical qualifier: "Merger (2024)" -> "Merger".
func normalizeTopic(topic string) string {
	head, _, _ := strings.Cut(topic, "(")
	return strings.TrimSpace(head)
}

// containsAny reports whether any marker occurs in s as a whole word, so
// ACTIVE does not match INACTIVE and 2026 does not match $20260.
func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if m != "" && containsWord(s, m) {
			return true
		}
	}
	return false
}

func containsWord(s, word string) bool {
	for off := 0; ; {
		i := strings.Index(s[off:], word)
		if i < 0 {
			return false
		}
		start, end := off+i, off+i+len(word)
		before, _ := utf8.DecodeLastRuneInString(s[:start])
		after, _ := utf8.DecodeRuneInString(s[end:])
		if !isWordRune(before) && !isWordRune(after) {
			return true
		}
		off = start + 1
	}
}

// isWordRune is false for utf8.RuneError, which marks either end of s.
func isWordRune(r rune) bool {
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r))
}
