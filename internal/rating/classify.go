package rating

import (
	"strings"

	"github.com/sells-group/cyber-rating/internal/ratetable"
)

// Classification is the rating tier for an industry and revenue.
type Classification struct {
	Industry    string `json:"industry"`
	HazardClass int    `json:"hazard_class"`
	RevenueBand string `json:"revenue_band"`
	BandIndex   int    `json:"band_index"`
}

// Engine prices quote requests against one rate table snapshot. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	table *ratetable.Table
}

// NewEngine returns an Engine bound to t.
func NewEngine(t *ratetable.Table) *Engine {
	return &Engine{table: t}
}

// Table returns the snapshot the engine rates against.
func (e *Engine) Table() *ratetable.Table { return e.table }

// Classify maps an industry slug and annual revenue to a hazard class and
// revenue band. Revenue must be non-negative.
func (e *Engine) Classify(industry string, revenue int64) (Classification, error) {
	if revenue < 0 {
		return Classification{}, &InvalidRatingInputError{Field: "revenue", Value: revenue}
	}
	ind, ok := e.table.Industry(industry)
	if !ok {
		return Classification{}, &UnknownIndustryError{Industry: industry}
	}
	band, idx, ok := e.table.BandFor(revenue)
	if !ok {
		return Classification{}, &RatingDataMissingError{Table: "revenue_bands", Key: formatInt(revenue)}
	}
	return Classification{
		Industry:    ind.Slug,
		HazardClass: ind.HazardClass,
		RevenueBand: band.Label,
		BandIndex:   idx,
	}, nil
}

// ResolveIndustry returns industry when set, otherwise the slug mapped from
// the NAICS code.
func (e *Engine) ResolveIndustry(industry, naics string) (string, error) {
	industry = strings.TrimSpace(industry)
	if industry != "" {
		return industry, nil
	}
	naics = strings.TrimSpace(naics)
	if slug, ok := e.table.IndustryForNAICS(naics); ok {
		return slug, nil
	}
	return "", &UnknownIndustryError{Industry: "naics:" + naics}
}

// IsRatable reports whether a submission carries enough revenue data to be
// rated. Zero means unknown revenue, which callers treat as unrated.
func IsRatable(revenue int64) bool {
	return revenue > 0
}
