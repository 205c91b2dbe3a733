package quote

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/cyber-rating/internal/resilience"
)

// Bind binds tower id, retrying transient failures under p. A commit can
// succeed while its acknowledgement is lost; when a retry then finds id
// itself bound, the earlier attempt won and Bind reports success.
// ErrAlreadyBound on the first attempt, or for a sibling tower, is returned.
func Bind(ctx context.Context, st Store, id string, p resilience.Policy) error {
	retried := false
	return resilience.Do(ctx, p, func(ctx context.Context) error {
		err := st.BindTower(ctx, id)
		if retried && errors.Is(err, ErrAlreadyBound) {
			row, getErr := st.GetTower(ctx, id)
			if getErr == nil && row.IsBound {
				zap.L().Info("quote: bind confirmed on retry", zap.String("id", id))
				return nil
			}
		}
		retried = true
		return err
	})
}
