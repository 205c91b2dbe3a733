package rating

import "fmt"

// UnknownIndustryError is returned when an industry slug is absent from the
// rate table. Callers fix the upstream mapping; there is no fallback rate.
type UnknownIndustryError struct {
	Industry string
}

func (e *UnknownIndustryError) Error() string {
	return fmt.Sprintf("rating: unknown industry %q", e.Industry)
}

// RatingDataMissingError is returned when a table entry required for an
// otherwise valid request is absent. Missing rates are never defaulted.
type RatingDataMissingError struct {
	Table string // e.g. "base_rates", "limit_factors"
	Key   string
}

func (e *RatingDataMissingError) Error() string {
	return fmt.Sprintf("rating: no %s entry for %s", e.Table, e.Key)
}

// InvalidRatingInputError is returned for a malformed or out-of-range request.
type InvalidRatingInputError struct {
	Field string
	Value int64
}

func (e *InvalidRatingInputError) Error() string {
	return fmt.Sprintf("rating: %s must be positive, got %d", e.Field, e.Value)
}
