package ops

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/compost/internal/compost"
)

// TestMoveIn_KeepsReserve checks that after a move-in the volume keeps the
// configured reserve on top of the incoming bytes, evicting archive first.
func TestMoveIn_KeepsReserve(t *testing.T) {
	env := newTestEnv(t)
	ws := env.Config.WorkspaceRoot

	// 600 bytes of old archive and 300 of trash already in compost.
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		writeFile(t, filepath.Join(env.Store.Root(), "2024-03-01", "archive", "@root", name), string(make([]byte, 100)))
	}
	for _, name := range []string{"x", "y", "z"} {
		writeFile(t, filepath.Join(env.Store.Root(), "2024-03-01", "trash", "@root", name), string(make([]byte, 100)))
	}
	writeFile(t, filepath.Join(ws, "big.tmp"), string(make([]byte, 250)))

	// Volume with 1200 bytes of room outside the workspace tree.
	const capacity = 1500
	env.FreeSpace = func(string) (int64, error) {
		return capacity - compost.PathSize(ws), nil
	}
	env.Config.ReserveBytes = 500

	out, err := Tidy(context.Background(), env, MoveInput{Target: Target{Scope: "current"}})
	require.NoError(t, err)
	require.Equal(t, 1, out.Moved)

	// free before = 1500-1150 = 350; needed 250+500 = 750; deficit 400.
	require.NotNil(t, out.Capacity.ReservePass)
	require.EqualValues(t, 400, out.Capacity.ReservePass.Target)
	require.Zero(t, out.Capacity.Shortfall())

	free, err := env.FreeSpace(ws)
	require.NoError(t, err)
	require.GreaterOrEqual(t, free, int64(500+250))

	trash, err := env.Store.TierDirs(compost.TierTrash)
	require.NoError(t, err)
	require.Len(t, trash, 1)
	require.EqualValues(t, 300, compost.PathSize(trash[0]), "trash untouched while archive suffices")
}

func TestMoveIn_FootprintCap(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range []string{"a", "b", "c"} {
		writeFile(t, filepath.Join(env.Store.Root(), "2024-03-01", "trash", "@root", name), string(make([]byte, 100)))
	}
	writeFile(t, filepath.Join(env.Config.WorkspaceRoot, "drop.bak"), "bak")
	env.Config.MaxCompostBytes = 150

	out, err := Tidy(context.Background(), env, MoveInput{Target: Target{Scope: "current"}})
	require.NoError(t, err)
	require.NotNil(t, out.Capacity.FootprintPass)
	require.EqualValues(t, 200, out.Capacity.FootprintPass.Reclaimed)
}
