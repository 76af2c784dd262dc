package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Field is one slot of a research entity.
type Field uint8

const (
	FieldTarget Field = iota
	FieldDisease
	FieldTherapy
	FieldDrug
)

// Fields lists entity slots in canonical key order.
var Fields = [...]Field{FieldTarget, FieldDisease, FieldTherapy, FieldDrug}

func (f Field) Code() string {
	switch f {
	case FieldTarget:
		return "T"
	case FieldDisease:
		return "D"
	case FieldTherapy:
		return "R"
	case FieldDrug:
		return "M"
	default:
		return "?"
	}
}

func (f Field) String() string {
	switch f {
	case FieldTarget:
		return "target"
	case FieldDisease:
		return "disease"
	case FieldTherapy:
		return "therapy"
	case FieldDrug:
		return "drug"
	default:
		return "unknown"
	}
}

// Term is a named concept with optional aliases.
type Term struct {
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
}

func (t Term) Present() bool {
	return strings.TrimSpace(t.Name) != ""
}

// CleanAliases returns trimmed, non-empty aliases that differ from the name.
func (t Term) CleanAliases() []string {
	name := strings.TrimSpace(t.Name)
	out := make([]string, 0, len(t.Aliases))
	seen := map[string]struct{}{strings.ToLower(name): {}}
	for _, alias := range t.Aliases {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			continue
		}
		key := strings.ToLower(alias)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, alias)
	}
	return out
}

// UnmarshalJSON accepts either a bare string or an object carrying a name
// (or primary) and aliases.
func (t *Term) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*t = Term{}
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*t = Term{Name: strings.TrimSpace(name)}
		return nil
	}

	var raw struct {
		Name    string   `json:"name"`
		Primary string   `json:"primary"`
		Aliases []string `json:"aliases"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode term: %w", err)
	}
	name := raw.Name
	if strings.TrimSpace(name) == "" {
		name = raw.Primary
	}
	*t = Term{Name: strings.TrimSpace(name), Aliases: raw.Aliases}
	return nil
}

// Entity is the research subject a request is about. Any field may be empty.
type Entity struct {
	Target  Term `json:"target"`
	Disease Term `json:"disease"`
	Therapy Term `json:"therapy"`
	Drug    Term `json:"drug"`
}

func (e Entity) Term(f Field) Term {
	switch f {
	case FieldTarget:
		return e.Target
	case FieldDisease:
		return e.Disease
	case FieldTherapy:
		return e.Therapy
	case FieldDrug:
		return e.Drug
	default:
		return Term{}
	}
}

func (e Entity) Key() CombinationKey {
	var key CombinationKey
	for _, f := range Fields {
		if e.Term(f).Present() {
			key = key.With(f)
		}
	}
	return key
}

// CombinationKey is the set of populated entity fields.
type CombinationKey uint8

const EmptyKeyName = "EMPTY"

func (k CombinationKey) With(f Field) CombinationKey {
	return k | 1<<f
}

func (k CombinationKey) Has(f Field) bool {
	return k&(1<<f) != 0
}

func (k CombinationKey) String() string {
	var b strings.Builder
	for _, f := range Fields {
		if k.Has(f) {
			b.WriteString(f.Code())
		}
	}
	if b.Len() == 0 {
		return EmptyKeyName
	}
	return b.String()
}

// ParseCombinationKey is the inverse of String.
func ParseCombinationKey(s string) (CombinationKey, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == EmptyKeyName {
		return 0, nil
	}
	var key CombinationKey
	last := -1
	for _, r := range s {
		idx := strings.IndexRune("TDRM", r)
		if idx < 0 || idx <= last {
			return 0, WrapError(ErrInvalidInput, "parse combination key", fmt.Errorf("unexpected %q in %q", r, s))
		}
		last = idx
		key = key.With(Field(idx))
	}
	if key == 0 {
		return 0, WrapError(ErrInvalidInput, "parse combination key", fmt.Errorf("empty key"))
	}
	return key, nil
}

func (k CombinationKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *CombinationKey) UnmarshalText(text []byte) error {
	parsed, err := ParseCombinationKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
