package server

import (
	"fmt"
	"regexp"
	"time"
)

const maxTimeRange = 2 * 366 * 24 * time.Hour

var prmPattern = regexp.MustCompile(`^\d{14}$`)

// QueryRequest is the decoded form of a statistics query.
type QueryRequest struct {
	PRM        string
	Production bool
	Cost       bool
	Start      time.Time
	End        time.Time
}

type RequestValidator struct{}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{}
}

// ValidatePRM checks that prm is a 14 digit delivery point id.
func (v *RequestValidator) ValidatePRM(prm string) error {
	if !prmPattern.MatchString(prm) {
		return fmt.Errorf("invalid prm: %q", prm)
	}
	return nil
}

// Validate checks if the query parameters are valid
func (v *RequestValidator) Validate(req QueryRequest) error {
	if err := v.ValidatePRM(req.PRM); err != nil {
		return err
	}

	if req.Start.IsZero() || req.End.IsZero() {
		return fmt.Errorf("missing timestamp")
	}

	if !req.Start.Before(req.End) {
		return fmt.Errorf("start time must be before end time")
	}

	if req.End.Sub(req.Start) > maxTimeRange {
		return fmt.Errorf("time range exceeds maximum allowed")
	}

	return nil
}
