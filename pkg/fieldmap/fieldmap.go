// Package fieldmap suggests which database field a form field should be
// written to, by name similarity and type compatibility.
package fieldmap

import (
	"strings"
	"unicode"
)

type Kind string

const (
	KindExact     Kind = "exact"
	KindSubstring Kind = "substring"
	KindNone      Kind = "none"
)

const (
	exactScore     = 100
	substringFloor = 50
	substringRange = 40
)

// Field is a named, typed column of a form or a table.
type Field struct {
	Name string `json:"name" validate:"required"`
	Type string `json:"type,omitempty"`
}

type Match struct {
	Kind  Kind `json:"kind"`
	Score int  `json:"score"`
}

// typeFamilies groups form and database types that can hold each other's values.
var typeFamilies = map[string]string{
	"text":      "text",
	"textarea":  "text",
	"string":    "text",
	"varchar":   "text",
	"email":     "text",
	"phone":     "text",
	"tel":       "text",
	"url":       "text",
	"select":    "text",
	"radio":     "text",
	"number":    "number",
	"integer":   "number",
	"int":       "number",
	"decimal":   "number",
	"float":     "number",
	"currency":  "number",
	"date":      "date",
	"datetime":  "date",
	"timestamp": "date",
	"time":      "date",
	"checkbox":  "boolean",
	"boolean":   "boolean",
	"bool":      "boolean",
	"file":      "file",
	"upload":    "file",
	"image":     "file",
}

// Compatible reports whether values of the two types can be stored in each
// other. An empty or unknown type is compatible with everything.
func Compatible(formType, dbType string) bool {
	a, okA := typeFamilies[strings.ToLower(formType)]
	b, okB := typeFamilies[strings.ToLower(dbType)]

	if !okA || !okB {
		return true
	}

	return a == b
}

func normalize(name string) string {
	var b strings.Builder

	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}

	return b.String()
}

// Score rates how well formField maps onto dbField. An exact name match
// always beats a substring match, and a substring match only counts when the
// types are compatible. Longer overlaps score higher.
func Score(formField, dbField Field) Match {
	a, b := normalize(formField.Name), normalize(dbField.Name)
	if a == "" || b == "" {
		return Match{Kind: KindNone}
	}

	if a == b {
		return Match{Kind: KindExact, Score: exactScore}
	}

	if !Compatible(formField.Type, dbField.Type) {
		return Match{Kind: KindNone}
	}

	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}

	if !strings.Contains(long, short) {
		return Match{Kind: KindNone}
	}

	return Match{
		Kind:  KindSubstring,
		Score: substringFloor + substringRange*len(short)/len(long),
	}
}

// BestMatch returns the highest scoring candidate. Ties keep the earlier
// candidate. ok is false when nothing matches.
func BestMatch(formField Field, candidates []Field) (Field, Match, bool) {
	var (
		best      Field
		bestMatch = Match{Kind: KindNone}
	)

	for _, candidate := range candidates {
		m := Score(formField, candidate)
		if m.Score > bestMatch.Score {
			best, bestMatch = candidate, m
		}
	}

	return best, bestMatch, bestMatch.Kind != KindNone
}

// Mapping pairs a form field with the database field it should fill.
type Mapping struct {
	FormField string `json:"form_field"`
	DBField   string `json:"db_field"`
	Match     Match  `json:"match"`
}

// Suggest maps each form field to its best database field, in form order.
// A database field is used at most once; a form field that scores the same
// on an already claimed field falls through to its next best candidate.
func Suggest(formFields, dbFields []Field) []Mapping {
	claimed := make(map[string]bool, len(dbFields))
	mappings := make([]Mapping, 0, len(formFields))

	for _, formField := range formFields {
		free := make([]Field, 0, len(dbFields))

		for _, dbField := range dbFields {
			if !claimed[dbField.Name] {
				free = append(free, dbField)
			}
		}

		best, match, ok := BestMatch(formField, free)
		if !ok {
			continue
		}

		claimed[best.Name] = true

		mappings = append(mappings, Mapping{FormField: formField.Name, DBField: best.Name, Match: match})
	}

	return mappings
}
