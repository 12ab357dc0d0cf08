package contact

import "strings"

// Rule maps any key containing Substring (case-insensitively) to Field.
type Rule struct {
	Substring string
	Field     string
}

// DefaultRules is evaluated in order for every key; the first rule that
// matches decides the canonical field.
var DefaultRules = []Rule{
	{Substring: "name", Field: FieldName},
	{Substring: "email", Field: FieldEmail},
	{Substring: "designation", Field: FieldDesignation},
	{Substring: "linkedin", Field: FieldLinkedIn},
}

// Normalizer maps raw records onto contacts using an ordered rule list.
type Normalizer struct {
	rules []Rule
}

// NewNormalizer creates a Normalizer. With no rules it uses DefaultRules.
func NewNormalizer(rules ...Rule) *Normalizer {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Normalizer{rules: rules}
}

// Normalize converts one record. Keys are visited in source order, so when
// several keys map to the same canonical field the last one wins. Keys that
// match no rule are kept under their original name.
func (n *Normalizer) Normalize(rec Record) Contact {
	var c Contact
	for _, f := range rec {
		if field, ok := n.match(f.Key); ok {
			c.set(field, f.Value)
			continue
		}
		c.Extra = append(c.Extra, f)
	}
	return c
}

// NormalizeAll converts every record, keeping order.
func (n *Normalizer) NormalizeAll(recs []Record) []Contact {
	out := make([]Contact, 0, len(recs))
	for _, rec := range recs {
		out = append(out, n.Normalize(rec))
	}
	return out
}

func (n *Normalizer) match(key string) (string, bool) {
	lower := strings.ToLower(key)
	for _, r := range n.rules {
		if strings.Contains(lower, r.Substring) {
			return r.Field, true
		}
	}
	return "", false
}

var defaultNormalizer = NewNormalizer()

// Normalize converts rec with DefaultRules.
func Normalize(rec Record) Contact {
	return defaultNormalizer.Normalize(rec)
}

// NormalizeAll converts recs with DefaultRules.
func NormalizeAll(recs []Record) []Contact {
	return defaultNormalizer.NormalizeAll(recs)
}
