// Package knowledge loads the business-facts document that grounds chat
// responses and selects the sections relevant to a user message.
package knowledge

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Sentinel errors for knowledge loading.
var (
	// ErrEmptyDocument indicates the knowledge file contained no sections.
	ErrEmptyDocument = errors.New("knowledge document is empty")

	// ErrNotObject indicates the knowledge file root is not a JSON object.
	ErrNotObject = errors.New("knowledge document root must be a JSON object")
)

// Section is one named entry of the knowledge document. Value holds either a
// plain string or a nested JSON object (decoded as map[string]any).
type Section struct {
	Key   string
	Value any
}

// Store holds the loaded knowledge document. Sections keep document order so
// excerpts are deterministic. Immutable after Load; safe for concurrent use.
type Store struct {
	sections []Section
}

// Load reads and parses the knowledge document at path.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading knowledge file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a knowledge document from raw JSON. The root must be an
// object; key order is preserved.
func Parse(data []byte) (*Store, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parsing knowledge document: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, ErrNotObject
	}

	var sections []Section
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parsing knowledge key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("parsing knowledge key: unexpected token %v", keyTok)
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("parsing knowledge section %q: %w", key, err)
		}
		sections = append(sections, Section{Key: key, Value: value})
	}

	if len(sections) == 0 {
		return nil, ErrEmptyDocument
	}
	return &Store{sections: sections}, nil
}

// Sections returns the document sections in document order.
func (s *Store) Sections() []Section {
	return s.sections
}

// Excerpt selects the sections relevant to a user message and renders them as
// text for prompt grounding.
//
// A section matches when the lowercased message contains the section key, or,
// for string sections, when it contains the section value. When nothing
// matches the whole document is returned so the model always has the facts.
func (s *Store) Excerpt(userMessage string) string {
	needle := strings.ToLower(userMessage)

	var matched []Section
	for _, sec := range s.sections {
		if strings.Contains(needle, strings.ToLower(sec.Key)) {
			matched = append(matched, sec)
			continue
		}
		if str, ok := sec.Value.(string); ok && str != "" &&
			strings.Contains(needle, strings.ToLower(str)) {
			matched = append(matched, sec)
		}
	}

	if len(matched) == 0 {
		matched = s.sections
	}
	return render(matched)
}

// render formats sections as lines. String values render inline; nested
// objects render as indented JSON so structure survives into the prompt.
func render(sections []Section) string {
	var b strings.Builder
	for i, sec := range sections {
		if i > 0 {
			b.WriteString("\n")
		}
		switch v := sec.Value.(type) {
		case string:
			b.WriteString(sec.Key)
			b.WriteString(": ")
			b.WriteString(v)
		default:
			pretty, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				pretty = []byte(fmt.Sprintf("%v", v))
			}
			b.WriteString(sec.Key)
			b.WriteString(": ")
			b.Write(pretty)
		}
	}
	return b.String()
}
