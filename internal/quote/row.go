// Package quote maps rated, named towers onto insurance_towers rows and
// persists them.
package quote

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/cyber-rating/internal/rating"
	"github.com/sells-group/cyber-rating/internal/tower"
)

// ErrInvalidRow is wrapped by BuildRow for input that cannot form a row.
var ErrInvalidRow = eris.New("quote: invalid row")

// TowerRow is one insurance_towers row.
type TowerRow struct {
	ID               string          `json:"id"`
	SubmissionID     string          `json:"submission_id"`
	QuoteName        string          `json:"quote_name"`
	TowerJSON        json.RawMessage `json:"tower_json"`
	Position         tower.Position  `json:"position"`
	PrimaryRetention *int64          `json:"primary_retention,omitempty"`
	SoldPremium      *int64          `json:"sold_premium,omitempty"`
	TechnicalPremium *int64          `json:"technical_premium,omitempty"`
	RatingBreakdown  json.RawMessage `json:"rating_breakdown,omitempty"`
	IsBound          bool            `json:"is_bound"`
	EffectiveDate    *time.Time      `json:"effective_date,omitempty"`
	ExpirationDate   *time.Time      `json:"expiration_date,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Layers decodes the row's tower.
func (r *TowerRow) Layers() ([]tower.Layer, error) {
	return tower.ParseTower(r.TowerJSON)
}

// RowInput is everything needed to build a TowerRow.
type RowInput struct {
	ID               string // generated when empty
	SubmissionID     string
	Layers           []tower.Layer
	Position         tower.Position
	PrimaryRetention int64
	// Quote is the technical rating for the tower, if one was run.
	Quote *rating.Quote
	// SoldPremium overrides the technical premium when positive.
	SoldPremium    int64
	EffectiveDate  *time.Time
	ExpirationDate *time.Time
}

// BuildRow validates in, derives the quote name with n, and returns the row
// to persist. Tower structure errors are returned unwrapped.
func BuildRow(n *tower.Namer, in RowInput) (*TowerRow, error) {
	submission := strings.TrimSpace(in.SubmissionID)
	if submission == "" {
		return nil, eris.Wrap(ErrInvalidRow, "submission_id is required")
	}
	position := in.Position
	if position == "" {
		position = tower.PositionPrimary
	}
	if position != tower.PositionPrimary && position != tower.PositionExcess {
		return nil, eris.Wrapf(ErrInvalidRow, "position %q", position)
	}
	if in.EffectiveDate != nil && in.ExpirationDate != nil && !in.ExpirationDate.After(*in.EffectiveDate) {
		return nil, eris.Wrap(ErrInvalidRow, "expiration_date must be after effective_date")
	}
	if in.SoldPremium < 0 {
		return nil, eris.Wrap(ErrInvalidRow, "sold_premium must not be negative")
	}

	name, err := n.Name(in.Layers, position, in.PrimaryRetention)
	if err != nil {
		return nil, err
	}
	towerJSON, err := tower.MarshalTower(in.Layers)
	if err != nil {
		return nil, err
	}

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.New().String()
	}

	retention := n.Retention(in.Layers, in.PrimaryRetention)
	row := &TowerRow{
		ID:               id,
		SubmissionID:     submission,
		QuoteName:        name,
		TowerJSON:        towerJSON,
		Position:         position,
		PrimaryRetention: &retention,
		EffectiveDate:    in.EffectiveDate,
		ExpirationDate:   in.ExpirationDate,
	}

	if in.Quote != nil {
		technical := in.Quote.Premium
		row.TechnicalPremium = &technical
		row.SoldPremium = &technical
		breakdown, err := json.Marshal(in.Quote.Breakdown)
		if err != nil {
			return nil, eris.Wrap(err, "quote: encode rating breakdown")
		}
		row.RatingBreakdown = breakdown
	}
	if in.SoldPremium > 0 {
		sold := in.SoldPremium
		row.SoldPremium = &sold
	}
	return row, nil
}
