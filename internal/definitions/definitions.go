package definitions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrPropertyRequired is returned when a lookup is attempted without a property id.
var ErrPropertyRequired = errors.New("property id is required")

// Definition is a custom dimension or metric registered on a property.
type Definition struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
}

// Set holds the custom definitions of one property.
type Set struct {
	PropertyID        string       `json:"property_id"`
	UserDimensions    []Definition `json:"user_dimensions"`
	CustomDefinitions []Definition `json:"custom_definitions"`
}

// List selects one of the two definition sub-collections.
type List int

const (
	UserDimensions List = iota
	CustomDefinitions
)

func (l List) String() string {
	switch l {
	case UserDimensions:
		return "user_dimensions"
	case CustomDefinitions:
		return "custom_definitions"
	default:
		return "list(" + strconv.Itoa(int(l)) + ")"
	}
}

func (s *Set) list(l List) []Definition {
	if s == nil {
		return nil
	}
	if l == UserDimensions {
		return s.UserDimensions
	}
	return s.CustomDefinitions
}

// NameAt returns the name bound to index in the given list.
func (s *Set) NameAt(l List, index int) (string, bool) {
	for _, d := range s.list(l) {
		if d.Index == index {
			return d.Name, true
		}
	}
	return "", false
}

// IndexOf returns the index bound to name in the given list. Names compare exactly.
func (s *Set) IndexOf(l List, name string) (int, bool) {
	for _, d := range s.list(l) {
		if d.Name == name {
			return d.Index, true
		}
	}
	return 0, false
}

// Fetcher loads the definitions of a property from the upstream service.
type Fetcher interface {
	FetchDefinitions(ctx context.Context, propertyID string, headers map[string]string) (*Set, error)
}

// Cache memoizes definition sets per property for the duration of one run.
// A failed fetch is remembered too, so a broken property costs one request.
type Cache struct {
	fetcher Fetcher
	headers map[string]string
	sets    map[string]*Set
	errs    map[string]error
	fetches int
}

// NewCache creates a run-scoped cache. headers are sent with every fetch.
func NewCache(fetcher Fetcher, headers map[string]string) *Cache {
	return &Cache{
		fetcher: fetcher,
		headers: headers,
		sets:    make(map[string]*Set),
		errs:    make(map[string]error),
	}
}

// Get returns the cached set for propertyID, fetching it on first use.
func (c *Cache) Get(ctx context.Context, propertyID string) (*Set, error) {
	propertyID = strings.TrimSpace(propertyID)
	if propertyID == "" {
		return nil, ErrPropertyRequired
	}
	if set, ok := c.sets[propertyID]; ok {
		return set, nil
	}
	if err, ok := c.errs[propertyID]; ok {
		return nil, err
	}
	c.fetches++
	set, err := c.fetcher.FetchDefinitions(ctx, propertyID, c.headers)
	if err != nil {
		err = fmt.Errorf("fetch definitions for property %s: %w", propertyID, err)
		// cancellation says nothing about the property
		if ctx.Err() == nil {
			c.errs[propertyID] = err
		}
		return nil, err
	}
	if set.PropertyID == "" {
		set.PropertyID = propertyID
	}
	c.sets[propertyID] = set
	return set, nil
}

// SetHeaders replaces the headers used for subsequent fetches.
func (c *Cache) SetHeaders(headers map[string]string) {
	c.headers = headers
}

// Fetches reports how many upstream fetches the cache performed.
func (c *Cache) Fetches() int {
	return c.fetches
}
