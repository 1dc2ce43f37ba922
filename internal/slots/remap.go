package slots

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/funnyzak/reportsync/internal/definitions"
)

// ErrDefinitionNotFound indicates a slot could not be resolved by name.
var ErrDefinitionNotFound = errors.New("definition not found")

// Stage names the side of the mapping where a lookup failed.
type Stage string

const (
	StageTemplate    Stage = "template"
	StageDestination Stage = "destination"
)

// LookupError describes a slot whose definition is missing on one side.
type LookupError struct {
	Slot       Slot
	Stage      Stage
	PropertyID string
	Index      int
	Name       string
}

func (e *LookupError) Error() string {
	if e.Stage == StageTemplate {
		return fmt.Sprintf("slot %s: index %d not defined in %s of template property %s",
			e.Slot, e.Index, e.Slot.Group.Source(), e.PropertyID)
	}
	return fmt.Sprintf("slot %s: %q not defined in %s of destination property %s",
		e.Slot, e.Name, e.Slot.Group.Source(), e.PropertyID)
}

func (e *LookupError) Unwrap() error {
	return ErrDefinitionNotFound
}

// Resolve maps one slot from the template property onto the destination property.
func Resolve(template, destination *definitions.Set, s Slot) (Slot, error) {
	src := s.Group.Source()
	index := s.Group.DefinitionIndex(s.Number)

	name, ok := template.NameAt(src, index)
	if !ok {
		return Slot{}, &LookupError{Slot: s, Stage: StageTemplate, PropertyID: propertyOf(template), Index: index}
	}
	destIndex, ok := destination.IndexOf(src, name)
	if !ok {
		return Slot{}, &LookupError{Slot: s, Stage: StageDestination, PropertyID: propertyOf(destination), Name: name}
	}
	return Slot{Group: s.Group, Number: s.Group.SlotNumber(destIndex)}, nil
}

// Remap rewrites every slot reference in the payload's report cards so it
// addresses the destination property's definitions. Values that are not slot
// references are left untouched.
func Remap(template, destination *definitions.Set, payload []byte) ([]byte, error) {
	root, err := decode(payload)
	if err != nil {
		return nil, err
	}

	report, ok := root["report"].(map[string]interface{})
	if !ok {
		return payload, nil
	}
	cards, ok := report["cards"].([]interface{})
	if !ok {
		return payload, nil
	}

	m := &mapper{template: template, destination: destination}
	for _, entry := range cards {
		wrapper, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		card, ok := wrapper["card"].(map[string]interface{})
		if !ok {
			continue
		}
		for _, key := range sortedKeys(card) {
			rewritten, err := m.rewrite(card[key])
			if err != nil {
				return nil, fmt.Errorf("card field %s: %w", key, err)
			}
			card[key] = rewritten
		}
	}

	return encode(root)
}

type mapper struct {
	template    *definitions.Set
	destination *definitions.Set
}

func (m *mapper) rewrite(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case string:
		s, ok := Parse(val)
		if !ok {
			return val, nil
		}
		mapped, err := Resolve(m.template, m.destination, s)
		if err != nil {
			return nil, err
		}
		return mapped.Format(), nil
	case []interface{}:
		for i := range val {
			rewritten, err := m.rewrite(val[i])
			if err != nil {
				return nil, err
			}
			val[i] = rewritten
		}
		return val, nil
	case map[string]interface{}:
		if id, ok := val["id"]; ok {
			rewritten, err := m.rewrite(id)
			if err != nil {
				return nil, err
			}
			val["id"] = rewritten
		}
		return val, nil
	default:
		return v, nil
	}
}

// References lists the slot references found in the payload's cards.
func References(payload []byte) ([]Slot, error) {
	root, err := decode(payload)
	if err != nil {
		return nil, err
	}
	var out []Slot
	var walk func(v interface{})
	walk = func(v interface{}) {
		switch val := v.(type) {
		case string:
			if s, ok := Parse(val); ok {
				out = append(out, s)
			}
		case []interface{}:
			for _, item := range val {
				walk(item)
			}
		case map[string]interface{}:
			if id, ok := val["id"]; ok {
				walk(id)
			}
		}
	}
	report, _ := root["report"].(map[string]interface{})
	cards, _ := report["cards"].([]interface{})
	for _, entry := range cards {
		wrapper, _ := entry.(map[string]interface{})
		card, _ := wrapper["card"].(map[string]interface{})
		for _, key := range sortedKeys(card) {
			walk(card[key])
		}
	}
	return out, nil
}

func decode(payload []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var root map[string]interface{}
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return root, nil
}

func encode(root map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func propertyOf(s *definitions.Set) string {
	if s == nil {
		return ""
	}
	return s.PropertyID
}
