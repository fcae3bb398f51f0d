package matrix_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/downline/core/matrix"
)

func TestFindOpenSlot(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, narrow(2, 5))
	for _, id := range []string{"R", "A", "B", "A1", "A2", "B1"} {
		sponsor := "R"
		if id == "R" {
			sponsor = ""
		}
		e.place(t, id, sponsor)
	}

	loc := matrix.NewLocator(e.stores.Nodes, 2, 5)

	t.Run("grandchild slot behind a full level", func(t *testing.T) {
		got, err := loc.FindOpenSlot(ctx, "R")
		require.NoError(t, err)
		assert.Equal(t, matrix.Target{ParentID: "B", Position: 2, Level: 3, Path: "1.2.2"}, got)
	})

	t.Run("own slots first", func(t *testing.T) {
		got, err := loc.FindOpenSlot(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, matrix.Target{ParentID: "A1", Position: 1, Level: 4, Path: "1.1.1.1"}, got)
	})

	t.Run("unknown start", func(t *testing.T) {
		_, err := loc.FindOpenSlot(ctx, "ghost")
		assert.Equal(t, matrix.ErrNodeNotFound, errors.Cause(err))
	})

	t.Run("depth bound", func(t *testing.T) {
		shallow := matrix.NewLocator(e.stores.Nodes, 2, 2)
		_, err := shallow.FindOpenSlot(ctx, "R")
		assert.Equal(t, matrix.ErrMatrixFull, errors.Cause(err))
	})

	t.Run("visit bound", func(t *testing.T) {
		bounded := matrix.NewLocator(e.stores.Nodes, 2, 5, matrix.WithMaxVisits(2))
		_, err := bounded.FindOpenSlot(ctx, "R")
		assert.Equal(t, matrix.ErrMatrixFull, errors.Cause(err), "B is the third node visited")

		bounded = matrix.NewLocator(e.stores.Nodes, 2, 5, matrix.WithMaxVisits(3))
		got, err := bounded.FindOpenSlot(ctx, "R")
		require.NoError(t, err)
		assert.Equal(t, "B", got.ParentID)
	})

	t.Run("canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := loc.FindOpenSlot(cctx, "R")
		assert.Equal(t, context.Canceled, errors.Cause(err))
	})
}

func TestFindOpenSlot_IgnoresSlotsBeyondWidth(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, narrow(3, 5))
	e.place(t, "R", "")
	for i := 0; i < 2; i++ {
		e.place(t, fmt.Sprintf("C%d", i), "R")
	}

	// R has 3 slots but the locator is told the matrix is 2 wide
	loc := matrix.NewLocator(e.stores.Nodes, 2, 5)
	got, err := loc.FindOpenSlot(ctx, "R")
	require.NoError(t, err)
	assert.Equal(t, "C0", got.ParentID)
	assert.Equal(t, 1, got.Position)
}
