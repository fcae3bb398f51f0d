package notifysvc_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/trezcool/downline/core/matrix"
	logsvc "github.com/trezcool/downline/services/logger"
	notifysvc "github.com/trezcool/downline/services/notify"
)

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := notifysvc.NewLogNotifier(logsvc.WrapZap(zap.New(core)))

	n.SpilloverPlaced(context.Background(), "A", matrix.Node{UserID: "C", SponsorID: "R", Level: 3, Path: "1.1.1"})

	entries := logs.FilterMessage("spillover placement").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "C", fields["user"])
	assert.Equal(t, "R", fields["sponsor"])
	assert.Equal(t, "A", fields["parent"])
	assert.EqualValues(t, 3, fields["level"])
}
