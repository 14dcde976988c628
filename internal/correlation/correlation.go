// Package correlation encodes and parses the identifier that links a charge to
// its payment webhook. The wire format is "{uuid}|{planId}|{buyerId}"; charges
// already in flight depend on it, so it must not change.
package correlation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const separator = "|"

// ErrMalformed is returned for identifiers that do not follow the wire format.
var ErrMalformed = errors.New("correlation: malformed id")

// ID is a parsed correlation id.
type ID struct {
	Token   string
	PlanID  int64
	BuyerID int64
}

// New returns a fresh ID for a buyer purchasing a plan.
func New(planID, buyerID int64) ID {
	return ID{Token: uuid.NewString(), PlanID: planID, BuyerID: buyerID}
}

// String renders the wire format.
func (id ID) String() string {
	return id.Token + separator + strconv.FormatInt(id.PlanID, 10) + separator + strconv.FormatInt(id.BuyerID, 10)
}

// Parse decodes raw. The token must be a UUID and both ids positive integers.
func Parse(raw string) (ID, error) {
	parts := strings.Split(raw, separator)
	if len(parts) != 3 {
		return ID{}, fmt.Errorf("%w: expected 3 parts, got %d", ErrMalformed, len(parts))
	}
	if _, err := uuid.Parse(parts[0]); err != nil {
		return ID{}, fmt.Errorf("%w: token: %v", ErrMalformed, err)
	}
	planID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || planID <= 0 {
		return ID{}, fmt.Errorf("%w: plan id %q", ErrMalformed, parts[1])
	}
	buyerID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || buyerID <= 0 {
		return ID{}, fmt.Errorf("%w: buyer id %q", ErrMalformed, parts[2])
	}
	return ID{Token: parts[0], PlanID: planID, BuyerID: buyerID}, nil
}
