// ============================================================================
// Parameter Set - Flat Key/Value Description Files
// ============================================================================
//
// Package: internal/parset
// File: parset.go
// Purpose: Human-readable persistence for cluster and dataset descriptions.
//
// Format:
//   A flat YAML mapping, one key per line, lists in flow style:
//
//     ClusterName: lofar
//     NNodes: 2
//     Node0.Name: A
//     Node0.FileSys: [fs0, fs1]
//
//   Keys keep their insertion order when written, so files written by this
//   package diff cleanly.
//
// ============================================================================

package parset

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFlat is returned when a document contains nested mappings.
var ErrNotFlat = errors.New("parset: nested values are not allowed")

// MissingKeyError reports a required key that is absent.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("parset: missing key %q", e.Key)
}

// entry holds one value: a scalar or a list of scalars. Numbers and
// booleans are plain; strings are quoted when YAML would otherwise read
// them as something else.
type entry struct {
	scalar string
	list   []string
	isList bool
	plain  bool
}

// Set is an ordered collection of keys.
type Set struct {
	keys   []string
	values map[string]entry
}

// New creates an empty Set.
func New() *Set {
	return &Set{values: make(map[string]entry)}
}

// Len returns the number of keys.
func (s *Set) Len() int { return len(s.keys) }

// Keys returns the keys in insertion order.
func (s *Set) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Has reports whether key is present.
func (s *Set) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

func (s *Set) put(key string, e entry) {
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = e
}

// ============================================================================
// Setters
// ============================================================================

// Add sets a string value, replacing any previous value for key.
func (s *Set) Add(key, value string) { s.put(key, entry{scalar: value}) }

func (s *Set) AddInt(key string, v int) {
	s.put(key, entry{scalar: strconv.Itoa(v), plain: true})
}

func (s *Set) AddFloat(key string, v float64) {
	s.put(key, entry{scalar: strconv.FormatFloat(v, 'g', -1, 64), plain: true})
}

func (s *Set) AddBool(key string, v bool) {
	s.put(key, entry{scalar: strconv.FormatBool(v), plain: true})
}

func (s *Set) AddStrings(key string, v []string) {
	list := make([]string, len(v))
	copy(list, v)
	s.put(key, entry{list: list, isList: true})
}

func (s *Set) AddInts(key string, v []int) {
	list := make([]string, len(v))
	for i, x := range v {
		list[i] = strconv.Itoa(x)
	}
	s.put(key, entry{list: list, isList: true, plain: true})
}

func (s *Set) AddFloats(key string, v []float64) {
	list := make([]string, len(v))
	for i, x := range v {
		list[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	s.put(key, entry{list: list, isList: true, plain: true})
}

// Merge copies every key of other into s, prefixing it with prefix.
func (s *Set) Merge(prefix string, other *Set) {
	for _, k := range other.keys {
		s.put(prefix+k, other.values[k])
	}
}

// ============================================================================
// Getters
// ============================================================================

// Subset returns the keys starting with prefix, with the prefix removed.
func (s *Set) Subset(prefix string) *Set {
	sub := New()
	for _, k := range s.keys {
		if strings.HasPrefix(k, prefix) {
			sub.put(strings.TrimPrefix(k, prefix), s.values[k])
		}
	}
	return sub
}

// String returns the value of key as a string. Lists are rejected.
func (s *Set) String(key string) (string, error) {
	e, ok := s.values[key]
	if !ok {
		return "", &MissingKeyError{Key: key}
	}
	if e.isList {
		return "", fmt.Errorf("parset: key %q holds a list, want a scalar", key)
	}
	return e.scalar, nil
}

// StringOr returns the value of key, or def when absent.
func (s *Set) StringOr(key, def string) string {
	v, err := s.String(key)
	if err != nil {
		return def
	}
	return v
}

func (s *Set) Int(key string) (int, error) {
	v, err := s.String(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parset: key %q: %w", key, err)
	}
	return n, nil
}

func (s *Set) IntOr(key string, def int) int {
	if !s.Has(key) {
		return def
	}
	n, err := s.Int(key)
	if err != nil {
		return def
	}
	return n
}

func (s *Set) Float(key string) (float64, error) {
	v, err := s.String(key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parset: key %q: %w", key, err)
	}
	return f, nil
}

func (s *Set) FloatOr(key string, def float64) float64 {
	if !s.Has(key) {
		return def
	}
	f, err := s.Float(key)
	if err != nil {
		return def
	}
	return f
}

func (s *Set) Bool(key string) (bool, error) {
	v, err := s.String(key)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parset: key %q: %w", key, err)
	}
	return b, nil
}

// Strings returns the list stored at key. A scalar is returned as a
// one-element list.
func (s *Set) Strings(key string) ([]string, error) {
	e, ok := s.values[key]
	if !ok {
		return nil, &MissingKeyError{Key: key}
	}
	if !e.isList {
		return []string{e.scalar}, nil
	}
	if len(e.list) == 0 {
		return nil, nil
	}
	out := make([]string, len(e.list))
	copy(out, e.list)
	return out, nil
}

// StringsOr returns the list at key, or nil when absent.
func (s *Set) StringsOr(key string) []string {
	v, err := s.Strings(key)
	if err != nil {
		return nil
	}
	return v
}

func (s *Set) Ints(key string) ([]int, error) {
	list, err := s.Strings(key)
	if err != nil || list == nil {
		return nil, err
	}
	out := make([]int, len(list))
	for i, v := range list {
		if out[i], err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("parset: key %q[%d]: %w", key, i, err)
		}
	}
	return out, nil
}

func (s *Set) Floats(key string) ([]float64, error) {
	list, err := s.Strings(key)
	if err != nil || list == nil {
		return nil, err
	}
	out := make([]float64, len(list))
	for i, v := range list {
		if out[i], err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("parset: key %q[%d]: %w", key, i, err)
		}
	}
	return out, nil
}

// ============================================================================
// Encoding
// ============================================================================

// Marshal renders the set as a flat YAML mapping.
func (s *Set) Marshal() ([]byte, error) {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range s.keys {
		e := s.values[k]
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: k}
		var val *yaml.Node
		if e.isList {
			val = &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
			for _, item := range e.list {
				val.Content = append(val.Content, scalarNode(item, e.plain))
			}
		} else {
			val = scalarNode(e.scalar, e.plain)
		}
		doc.Content = append(doc.Content, key, val)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parset: marshal: %w", err)
	}
	return out, nil
}

// scalarNode lets yaml.v3 pick the quoting for strings, so values such as
// "true" or "007" survive a round trip as strings.
func scalarNode(v string, plain bool) *yaml.Node {
	if plain {
		return &yaml.Node{Kind: yaml.ScalarNode, Value: v}
	}
	n := &yaml.Node{}
	n.SetString(v)
	return n
}

func isPlain(n *yaml.Node) bool {
	return n.Style&(yaml.DoubleQuotedStyle|yaml.SingleQuotedStyle) == 0
}

// Unmarshal parses a flat YAML mapping.
func Unmarshal(data []byte) (*Set, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parset: %w", err)
	}
	s := New()
	if doc.Kind == 0 {
		return s, nil
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) == 1 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level is not a mapping", ErrNotFlat)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]
		switch v.Kind {
		case yaml.ScalarNode:
			s.put(k.Value, entry{scalar: v.Value, plain: isPlain(v)})
		case yaml.SequenceNode:
			list := make([]string, 0, len(v.Content))
			plain := true
			for _, item := range v.Content {
				if item.Kind != yaml.ScalarNode {
					return nil, fmt.Errorf("%w: key %q line %d", ErrNotFlat, k.Value, item.Line)
				}
				list = append(list, item.Value)
				plain = plain && isPlain(item)
			}
			s.put(k.Value, entry{list: list, isList: true, plain: plain})
		default:
			return nil, fmt.Errorf("%w: key %q line %d", ErrNotFlat, k.Value, v.Line)
		}
	}
	return s, nil
}

// ReadFile loads a set from path.
func ReadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parset: %w", err)
	}
	s, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// WriteFile stores the set at path.
func (s *Set) WriteFile(path string) error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write parset: %w", err)
	}
	return nil
}
