package memory

import (
	"context"
	"testing"
	"time"

	"github.com/reglet-dev/exthost/internal/domain/repair"
	"github.com/reglet-dev/exthost/internal/domain/repositories"
	"github.com/reglet-dev/exthost/internal/domain/values"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, repo *RepairEventRepository) {
	t.Helper()
	ctx := context.Background()
	a := values.MustNewExtensionID("alpha")
	b := values.MustNewExtensionID("beta")

	events := []repair.Event{
		repair.NewEvent(a, repair.DistToSrc, "Cannot find module './dist/x.js'", "resolved to src/x.ts", true, base),
		repair.NewEvent(a, repair.MissingAsset, "ENOENT: no such file or directory, open 'cfg.json'", "no fallback for .json assets", false, base.Add(time.Minute)),
		repair.NewEvent(b, repair.MonorepoEscape, "Cannot find module '../../shared/util'", "generated stub", true, base.Add(2*time.Minute)),
	}
	for _, ev := range events {
		id, err := repo.Append(ctx, ev)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}
}

func TestRepairEventRepository_AppendAndCount(t *testing.T) {
	repo := NewRepairEventRepository()
	seed(t, repo)

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRepairEventRepository_Find(t *testing.T) {
	repo := NewRepairEventRepository()
	seed(t, repo)
	ctx := context.Background()

	all, err := repo.Find(ctx, repositories.RepairEventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, repair.DistToSrc, all[0].Pattern())

	alpha, err := repo.Find(ctx, repositories.RepairEventFilter{Extension: values.MustNewExtensionID("alpha")})
	require.NoError(t, err)
	assert.Len(t, alpha, 2)

	stubs, err := repo.Find(ctx, repositories.RepairEventFilter{Pattern: repair.MonorepoEscape})
	require.NoError(t, err)
	require.Len(t, stubs, 1)
	assert.Equal(t, "beta", stubs[0].ExtensionID().String())

	recent, err := repo.Find(ctx, repositories.RepairEventFilter{Since: base.Add(30 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	limited, err := repo.Find(ctx, repositories.RepairEventFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
