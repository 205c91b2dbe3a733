package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/cyber-rating/internal/quote"
	"github.com/sells-group/cyber-rating/internal/rating"
	"github.com/sells-group/cyber-rating/internal/tower"
)

const maxBodyBytes = 1 << 20

// respond writes a JSON body with the given status code.
func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// respondErr writes the standard JSON error envelope.
func respondErr(w http.ResponseWriter, status int, message string) {
	respond(w, status, map[string]string{"error": message})
}

// respondError maps err onto a status code. Server errors are logged and
// their detail withheld.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed",
			zap.String("component", "api"),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		respondErr(w, status, http.StatusText(status))
		return
	}
	respondErr(w, status, err.Error())
}

func statusFor(err error) int {
	var (
		invalidInput *rating.InvalidRatingInputError
		invalidTower *tower.InvalidTowerStructureError
		unknown      *rating.UnknownIndustryError
		missing      *rating.RatingDataMissingError
	)
	switch {
	case errors.As(err, &invalidInput), errors.As(err, &invalidTower), errors.Is(err, quote.ErrInvalidRow):
		return http.StatusBadRequest
	case errors.As(err, &unknown), errors.As(err, &missing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, quote.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, quote.ErrAlreadyBound):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorOutcome labels a rating failure for metrics.
func errorOutcome(err error) string {
	switch statusFor(err) {
	case http.StatusBadRequest:
		return "invalid_input"
	case http.StatusUnprocessableEntity:
		var unknown *rating.UnknownIndustryError
		if errors.As(err, &unknown) {
			return "unknown_industry"
		}
		return "data_missing"
	default:
		return "error"
	}
}

// decode reads a JSON body into dst, writing a 400 and returning false on
// failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondErr(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
