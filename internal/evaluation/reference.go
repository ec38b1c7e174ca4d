package evaluation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry is one line of a reference transcript.
type Entry struct {
	Speaker  string  `json:"speaker" yaml:"speaker"`
	Text     string  `json:"text" yaml:"text"`
	StartSec float64 `json:"startSec" yaml:"start_sec"`
	EndSec   float64 `json:"endSec" yaml:"end_sec"`
}

type Reference struct {
	Title   string  `json:"title,omitempty" yaml:"title,omitempty"`
	Entries []Entry `json:"entries" yaml:"entries"`
}

// Text joins the entry texts in order.
func (r *Reference) Text() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		if t := strings.TrimSpace(e.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// PlainReference wraps free text as a single-entry reference.
func PlainReference(text string) *Reference {
	return &Reference{Entries: []Entry{{Text: text}}}
}

// LoadReference reads a reference document. The format follows the file
// extension: .yaml/.yml, .json, anything else is plain text.
func LoadReference(path string) (*Reference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference %s: %w", path, err)
	}
	ref, err := ParseReference(data, strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."))
	if err != nil {
		return nil, fmt.Errorf("parse reference %s: %w", path, err)
	}
	return ref, nil
}

// ParseReference decodes data in the given format. JSON and YAML accept either
// a {title, entries} document or a bare entry list.
func ParseReference(data []byte, format string) (*Reference, error) {
	switch format {
	case "yaml", "yml":
		var ref Reference
		if err := yaml.Unmarshal(data, &ref); err == nil && len(ref.Entries) > 0 {
			return validate(&ref)
		}
		var entries []Entry
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return nil, err
		}
		return validate(&Reference{Entries: entries})

	case "json":
		trimmed := strings.TrimSpace(string(data))
		if strings.HasPrefix(trimmed, "[") {
			var entries []Entry
			if err := json.Unmarshal(data, &entries); err != nil {
				return nil, err
			}
			return validate(&Reference{Entries: entries})
		}
		var ref Reference
		if err := json.Unmarshal(data, &ref); err != nil {
			return nil, err
		}
		return validate(&ref)

	default:
		return PlainReference(strings.TrimSpace(string(data))), nil
	}
}

func validate(ref *Reference) (*Reference, error) {
	for i, e := range ref.Entries {
		if e.EndSec < e.StartSec {
			return nil, fmt.Errorf("entry %d: end %.2fs before start %.2fs", i, e.EndSec, e.StartSec)
		}
	}
	return ref, nil
}

// FormatTimestamp renders seconds as MM:SS.ss.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	minutes := int(seconds / 60)
	secs := seconds - float64(minutes*60)
	return fmt.Sprintf("%02d:%05.2f", minutes, secs)
}
