package quote

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cyber-rating/internal/tower"
)

// NameChange is a stored quote name that no longer matches its tower.
type NameChange struct {
	ID           string `json:"id"`
	SubmissionID string `json:"submission_id"`
	OldName      string `json:"old_name"`
	NewName      string `json:"new_name"`
}

// NameFailure is a row whose tower could not be named.
type NameFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BackfillResult summarizes a quote name backfill.
type BackfillResult struct {
	Scanned  int           `json:"scanned"`
	Changes  []NameChange  `json:"changes"`
	Failures []NameFailure `json:"failures,omitempty"`
	Applied  int64         `json:"applied"`
	DryRun   bool          `json:"dry_run"`
}

// Backfill recomputes every stored quote name with n and, when apply is
// set, writes the names that changed. Rows already in sync produce no
// change, so repeated runs converge to zero changes.
func Backfill(ctx context.Context, st Store, n *tower.Namer, apply bool) (*BackfillResult, error) {
	log := zap.L().With(zap.String("component", "quote.backfill"))

	records, err := st.ListAllNames(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "backfill: list names")
	}

	res := &BackfillResult{Scanned: len(records), DryRun: !apply, Changes: []NameChange{}}
	for _, rec := range records {
		name, err := recomputeName(n, rec)
		if err != nil {
			log.Warn("backfill: cannot name tower", zap.String("id", rec.ID), zap.Error(err))
			res.Failures = append(res.Failures, NameFailure{ID: rec.ID, Error: err.Error()})
			continue
		}
		if name == rec.QuoteName {
			continue
		}
		res.Changes = append(res.Changes, NameChange{
			ID:           rec.ID,
			SubmissionID: rec.SubmissionID,
			OldName:      rec.QuoteName,
			NewName:      name,
		})
	}

	log.Info("backfill: scanned quote names",
		zap.Int("scanned", res.Scanned),
		zap.Int("changes", len(res.Changes)),
		zap.Int("failures", len(res.Failures)),
		zap.Bool("dry_run", res.DryRun),
	)

	if !apply || len(res.Changes) == 0 {
		return res, nil
	}

	updates := make([]NameUpdate, len(res.Changes))
	for i, c := range res.Changes {
		updates[i] = NameUpdate{ID: c.ID, QuoteName: c.NewName}
	}
	res.Applied, err = st.UpdateQuoteNames(ctx, updates)
	if err != nil {
		return res, eris.Wrap(err, "backfill: apply names")
	}
	log.Info("backfill: applied quote names", zap.Int64("rows", res.Applied))
	return res, nil
}

func recomputeName(n *tower.Namer, rec NameRecord) (string, error) {
	layers, err := tower.ParseTower(rec.TowerJSON)
	if err != nil {
		return "", err
	}
	position, err := tower.ParsePosition(string(rec.Position))
	if err != nil {
		return "", err
	}
	return n.Name(layers, position, rec.PrimaryRetention)
}
