// Package schema defines the Schema and Message value types exchanged
// between artifacts, plus the tagged content variant used to model
// message bodies without resorting to type-erased maps outside the parser
// boundary.
package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Schema is an immutable (name, version) pair where version is semver
// MAJOR.MINOR.PATCH. Equality is structural.
type Schema struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// New constructs a Schema, validating that version parses as semver.
func New(name, version string) (Schema, error) {
	s := Schema{Name: name, Version: version}
	if _, _, _, err := s.parts(); err != nil {
		return Schema{}, fmt.Errorf("schema %s: %w", name, err)
	}
	if name == "" {
		return Schema{}, fmt.Errorf("schema name must not be empty")
	}
	return s, nil
}

// parts splits Version into (major, minor, patch).
func (s Schema) parts() (major, minor, patch int, err error) {
	segments := strings.SplitN(s.Version, ".", 3)
	if len(segments) != 3 {
		return 0, 0, 0, fmt.Errorf("version %q is not MAJOR.MINOR.PATCH", s.Version)
	}
	vals := make([]int, 3)
	for i, seg := range segments {
		v, convErr := strconv.Atoi(seg)
		if convErr != nil {
			return 0, 0, 0, fmt.Errorf("version %q segment %q is not numeric", s.Version, seg)
		}
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], nil
}

// Major returns the major version component.
func (s Schema) Major() int {
	major, _, _, _ := s.parts()
	return major
}

// Minor returns the minor version component.
func (s Schema) Minor() int {
	_, minor, _, _ := s.parts()
	return minor
}

// Patch returns the patch version component.
func (s Schema) Patch() int {
	_, _, patch, _ := s.parts()
	return patch
}

// Equal reports structural equality.
func (s Schema) Equal(other Schema) bool {
	return s.Name == other.Name && s.Version == other.Version
}

// Compatible reports whether two schemas share a name and a major version.
func (s Schema) Compatible(other Schema) bool {
	return s.Name == other.Name && s.Major() == other.Major()
}

// String renders "name@version".
func (s Schema) String() string {
	return s.Name + "@" + s.Version
}

// PickDeterministic chooses, among candidates compatible with want, the one
// with the highest (minor, patch). If want has an empty Name, all
// candidates are eligible and the tie-break degrades to "smallest name,
// highest version" (used when a processor publishes multiple output
// schemas and the consumer accepts several).
func PickDeterministic(candidates []Schema, want Schema) (Schema, bool) {
	if want.Name == "" {
		return SmallestNameHighestVersion(candidates)
	}
	var best Schema
	found := false
	for _, c := range candidates {
		if want.Name != "" && !c.Compatible(want) {
			continue
		}
		if !found {
			best, found = c, true
			continue
		}
		if better(c, best) {
			best = c
		}
	}
	return best, found
}

// SmallestNameHighestVersion implements the tie-break named in §9 open
// question 2 for a processor that publishes several output schemas and the
// consumer has no preference: smallest name, then highest (major, minor, patch).
func SmallestNameHighestVersion(candidates []Schema) (Schema, bool) {
	var best Schema
	found := false
	for _, c := range candidates {
		if !found {
			best, found = c, true
			continue
		}
		if c.Name < best.Name || (c.Name == best.Name && better(c, best)) {
			best = c
		}
	}
	return best, found
}

func better(a, b Schema) bool {
	if a.Major() != b.Major() {
		return a.Major() > b.Major()
	}
	if a.Minor() != b.Minor() {
		return a.Minor() > b.Minor()
	}
	return a.Patch() > b.Patch()
}

// Content is a tagged variant representing a Message body: a scalar, an
// ordered sequence, or a mapping. It keeps merge and schema-aware equality
// total without falling back to "any" outside the parser boundary.
type Content struct {
	kind     contentKind
	scalar   any
	sequence []Content
	mapping  map[string]Content
}

type contentKind int

const (
	kindScalar contentKind = iota
	kindSequence
	kindMapping
)

// Scalar wraps a primitive value (string, number, bool, nil).
func Scalar(v any) Content { return Content{kind: kindScalar, scalar: v} }

// Sequence wraps an ordered list of Content items.
func Sequence(items ...Content) Content { return Content{kind: kindSequence, sequence: items} }

// Mapping wraps a string-keyed map of Content.
func Mapping(m map[string]Content) Content { return Content{kind: kindMapping, mapping: m} }

// IsScalar reports whether c holds a scalar.
func (c Content) IsScalar() bool { return c.kind == kindScalar }

// IsSequence reports whether c holds a sequence.
func (c Content) IsSequence() bool { return c.kind == kindSequence }

// IsMapping reports whether c holds a mapping.
func (c Content) IsMapping() bool { return c.kind == kindMapping }

// ScalarValue returns the scalar value, or nil if c is not a scalar.
func (c Content) ScalarValue() any { return c.scalar }

// Items returns the sequence items, or nil if c is not a sequence.
func (c Content) Items() []Content { return c.sequence }

// Fields returns the mapping fields, or nil if c is not a mapping.
func (c Content) Fields() map[string]Content { return c.mapping }

// Get looks up a mapping field by name; the second return is false when c
// is not a mapping or the field is absent.
func (c Content) Get(field string) (Content, bool) {
	if c.kind != kindMapping {
		return Content{}, false
	}
	v, ok := c.mapping[field]
	return v, ok
}

// Concat concatenates the sequence items of multiple Content values, in
// argument order, into a single sequence — used for merge: concatenate.
func Concat(parts ...Content) (Content, error) {
	out := make([]Content, 0)
	for _, p := range parts {
		if !p.IsSequence() {
			return Content{}, fmt.Errorf("concatenate merge requires sequence content, got %v", p.kind)
		}
		out = append(out, p.Items()...)
	}
	return Sequence(out...), nil
}

// MarshalJSON renders Content as plain JSON, losing only the tag (which is
// recoverable on decode from the JSON shape itself).
func (c Content) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case kindScalar:
		return json.Marshal(c.scalar)
	case kindSequence:
		return json.Marshal(c.sequence)
	case kindMapping:
		return json.Marshal(c.mapping)
	default:
		return json.Marshal(nil)
	}
}

// UnmarshalJSON reconstructs a Content tree from arbitrary JSON, tagging
// each node as scalar, sequence, or mapping based on its JSON shape. This
// is the one place "any" is acceptable — the JSON parser boundary.
func (c *Content) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = fromAny(raw)
	return nil
}

func fromAny(raw any) Content {
	switch v := raw.(type) {
	case []any:
		items := make([]Content, 0, len(v))
		for _, item := range v {
			items = append(items, fromAny(item))
		}
		return Sequence(items...)
	case map[string]any:
		fields := make(map[string]Content, len(v))
		for k, val := range v {
			fields[k] = fromAny(val)
		}
		return Mapping(fields)
	default:
		return Scalar(v)
	}
}

// Equal reports deep structural equality between two Content trees.
func (c Content) Equal(other Content) bool {
	if c.kind != other.kind {
		return false
	}
	switch c.kind {
	case kindScalar:
		return fmt.Sprint(c.scalar) == fmt.Sprint(other.scalar)
	case kindSequence:
		if len(c.sequence) != len(other.sequence) {
			return false
		}
		for i := range c.sequence {
			if !c.sequence[i].Equal(other.sequence[i]) {
				return false
			}
		}
		return true
	case kindMapping:
		if len(c.mapping) != len(other.mapping) {
			return false
		}
		for k, v := range c.mapping {
			ov, ok := other.mapping[k]
			if !ok || !v.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// Message is the immutable unit exchanged between artifacts.
type Message struct {
	ID      string  `json:"id"`
	Schema  Schema  `json:"schema"`
	Content Content `json:"content"`
}

// Canonical returns a canonical-JSON encoding of m, used for reuse-fidelity
// comparisons since map key order would otherwise make two byte-identical
// messages compare unequal.
func (m Message) Canonical() ([]byte, error) {
	return json.Marshal(canonicalValue(m))
}

func canonicalValue(m Message) map[string]any {
	return map[string]any{
		"id":      m.ID,
		"schema":  map[string]string{"name": m.Schema.Name, "version": m.Schema.Version},
		"content": canonicalContent(m.Content),
	}
}

func canonicalContent(c Content) any {
	switch c.kind {
	case kindScalar:
		return c.scalar
	case kindSequence:
		out := make([]any, 0, len(c.sequence))
		for _, item := range c.sequence {
			out = append(out, canonicalContent(item))
		}
		return out
	case kindMapping:
		out := make(map[string]any, len(c.mapping))
		for k, v := range c.mapping {
			out[k] = canonicalContent(v)
		}
		return out
	default:
		return nil
	}
}
