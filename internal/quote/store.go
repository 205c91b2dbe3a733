package quote

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cyber-rating/internal/tower"
)

var (
	// ErrNotFound is returned when a tower id does not exist.
	ErrNotFound = eris.New("quote: tower not found")
	// ErrAlreadyBound is returned when binding would leave a submission with
	// two bound towers, or when a bound tower would be modified.
	ErrAlreadyBound = eris.New("quote: submission already has a bound tower")
)

// NameRecord is the subset of a row needed to recompute its quote name.
type NameRecord struct {
	ID               string
	SubmissionID     string
	QuoteName        string
	TowerJSON        json.RawMessage
	Position         tower.Position
	PrimaryRetention int64
}

// NameUpdate sets a new quote name on one row.
type NameUpdate struct {
	ID        string
	QuoteName string
}

// Store persists insurance towers.
type Store interface {
	// UpsertTower inserts the row or overwrites an unbound row with the same id.
	UpsertTower(ctx context.Context, row *TowerRow) error
	GetTower(ctx context.Context, id string) (*TowerRow, error)
	ListTowers(ctx context.Context, submissionID string) ([]TowerRow, error)
	// BindTower marks a tower bound. A submission has at most one bound tower.
	BindTower(ctx context.Context, id string) error

	// Quote name maintenance
	ListAllNames(ctx context.Context) ([]NameRecord, error)
	UpdateQuoteNames(ctx context.Context, updates []NameUpdate) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
