package settlement

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pesacore/emoney-compliance/pkg/models"
)

// Rail is the external payment rail the engine settles against. The engine
// never moves money itself; it invokes the rail per transaction and records
// the outcome. Implementations must respect the context deadline.
type Rail interface {
	Settle(ctx context.Context, tx *models.WalletTransaction) (reference string, err error)
}

// LoggingRail acknowledges settlements without contacting a provider. Used
// in development wiring until the bank rail adapter is configured.
type LoggingRail struct {
	logger *zap.Logger
}

// NewLoggingRail creates a development rail.
func NewLoggingRail(logger *zap.Logger) *LoggingRail {
	return &LoggingRail{logger: logger}
}

// Settle logs and returns a synthetic reference.
func (r *LoggingRail) Settle(ctx context.Context, tx *models.WalletTransaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.logger.Debug("rail settle (logging rail)",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("amount", tx.Amount.String()))
	return fmt.Sprintf("dev_rail_ref_%s", tx.ID), nil
}
