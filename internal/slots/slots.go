package slots

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/funnyzak/reportsync/internal/definitions"
)

// Group is a family of slot references inside a report card.
type Group int

const (
	MetricGroup1 Group = iota + 1
	DimensionGroup1
	DimensionGroup2
)

// metricIndexBase offsets metric slots into the custom definition index space.
const metricIndexBase = 100

var groups = []Group{MetricGroup1, DimensionGroup1, DimensionGroup2}

// Prefix returns the literal that precedes the slot number.
func (g Group) Prefix() string {
	switch g {
	case MetricGroup1:
		return "customMetricsGroup1Slot"
	case DimensionGroup1:
		return "customDimensionsGroup1Slot"
	case DimensionGroup2:
		return "customDimensionsGroup2Slot"
	default:
		return ""
	}
}

func (g Group) String() string {
	switch g {
	case MetricGroup1:
		return "metric-group-1"
	case DimensionGroup1:
		return "dimension-group-1"
	case DimensionGroup2:
		return "dimension-group-2"
	default:
		return "group(" + strconv.Itoa(int(g)) + ")"
	}
}

// Source is the definition list the group's slots resolve against.
func (g Group) Source() definitions.List {
	if g == DimensionGroup1 {
		return definitions.UserDimensions
	}
	return definitions.CustomDefinitions
}

// DefinitionIndex maps a slot number to the index used by the definition list.
func (g Group) DefinitionIndex(number int) int {
	if g == MetricGroup1 {
		return metricIndexBase + number%metricIndexBase
	}
	return number
}

// SlotNumber maps a definition index back to a slot number.
func (g Group) SlotNumber(index int) int {
	if g == MetricGroup1 {
		return index % metricIndexBase
	}
	return index
}

// Slot is a parsed slot reference.
type Slot struct {
	Group  Group
	Number int
}

// Parse decodes a slot reference such as customMetricsGroup1Slot07.
func Parse(value string) (Slot, bool) {
	for _, g := range groups {
		prefix := g.Prefix()
		if !strings.HasPrefix(value, prefix) {
			continue
		}
		digits := value[len(prefix):]
		if digits == "" {
			return Slot{}, false
		}
		for _, r := range digits {
			if r < '0' || r > '9' {
				return Slot{}, false
			}
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			return Slot{}, false
		}
		return Slot{Group: g, Number: n}, true
	}
	return Slot{}, false
}

// Format renders the slot. Metric slots always carry two digits; dimension
// slots carry the plain index.
func (s Slot) Format() string {
	if s.Group == MetricGroup1 {
		return fmt.Sprintf("%s%02d", s.Group.Prefix(), s.Number)
	}
	return s.Group.Prefix() + strconv.Itoa(s.Number)
}

func (s Slot) String() string {
	return s.Format()
}
