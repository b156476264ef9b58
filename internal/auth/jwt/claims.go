package jwt

import (
	"encoding/json"
	"maps"
)

// Claims is the decoded claim set of a verified token. It is immutable:
// accessors return values or copies, never the backing map.
//
// Numeric claims are kept as json.Number so they read back exactly as they
// were encoded.
type Claims struct {
	values map[string]any
}

// NewClaims copies values into a Claims.
func NewClaims(values map[string]any) *Claims {
	return &Claims{values: maps.Clone(values)}
}

// Get returns the raw value of the named claim.
func (c *Claims) Get(name string) (any, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.values[name]
	return v, ok
}

// String returns the named claim when it is a string.
func (c *Claims) String(name string) string {
	v, _ := c.Get(name)
	s, _ := v.(string)
	return s
}

// Subject returns the "sub" claim.
func (c *Claims) Subject() string {
	return c.String("sub")
}

// Len returns the number of claims.
func (c *Claims) Len() int {
	if c == nil {
		return 0
	}
	return len(c.values)
}

// Map returns a shallow copy of the claim set.
func (c *Claims) Map() map[string]any {
	if c == nil {
		return map[string]any{}
	}
	return maps.Clone(c.values)
}

// MarshalJSON encodes the claim set as a JSON object.
func (c *Claims) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Map())
}
