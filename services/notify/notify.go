// Package notifysvc tells participants about placements made on their behalf.
// Delivery channels (email, SMS, push) live outside this service; it records the notification through the logger.
package notifysvc

import (
	"context"

	"github.com/trezcool/downline/core"
	"github.com/trezcool/downline/core/matrix"
)

type LogNotifier struct {
	log core.Logger
}

var _ matrix.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(log core.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SpilloverPlaced(_ context.Context, parentID string, node matrix.Node) {
	n.log.Info("spillover placement", node, map[string]interface{}{
		"sponsor": node.SponsorID,
		"parent":  parentID,
		"level":   node.Level,
	})
}
