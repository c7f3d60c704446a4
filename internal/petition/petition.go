package petition

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrMalformed is returned when a count body is not valid JSON.
var ErrMalformed = errors.New("malformed count response")

// Entity is one tracked petition. It lives for the whole process.
type Entity struct {
	ID   string
	Name string

	LastKnownCount int64
	HasCount       bool      // false until the first successful fetch
	LastFailure    time.Time // zero when the last fetch succeeded
}

// NewEntity creates an entity with no observations yet.
func NewEntity(id, name string) *Entity {
	return &Entity{ID: id, Name: name}
}

// Lifecycle states that zero out the count regardless of the numeric field.
var closedStates = map[string]bool{
	"rejected": true,
	"closed":   true,
}

type countResp struct {
	Data struct {
		Attributes struct {
			SignatureCount int64  `json:"signature_count"`
			State          string `json:"state"`
		} `json:"attributes"`
	} `json:"data"`
}

// ParseCount reads a count.json body. Rejected or closed petitions count as 0.
// A body that is valid JSON but lacks the expected fields also yields 0.
func ParseCount(r io.Reader) (int64, error) {
	var resp countResp
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	attrs := resp.Data.Attributes
	if closedStates[attrs.State] {
		return 0, nil
	}
	if attrs.SignatureCount < 0 {
		return 0, nil
	}
	return attrs.SignatureCount, nil
}
