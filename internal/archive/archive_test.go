package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/compost/internal/compost"
	"github.com/hpungsan/compost/internal/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func seedTarget(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "alpha")
	writeFile(t, filepath.Join(root, "docs", "b.md"), "bravo")
	writeFile(t, filepath.Join(root, "docs", "deep", "c.md"), "charlie")
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref: main")
	writeFile(t, filepath.Join(root, "node_modules", "x", "index.js"), "x")
	writeFile(t, filepath.Join(root, ".compost", "2024-03-09", "trash", "old.txt"), "old")
	writeFile(t, filepath.Join(root, "media", "big.iso"), "iso")
	return root
}

// writeTar builds a raw tar.gz with the given member names.
func writeTar(t *testing.T, path string, names ...string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, name := range names {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: 1, Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte("z"))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	target := seedTarget(t)
	dest := t.TempDir()

	var progress []int
	res, err := CreateBackup(ctx, target, dest, "nightly", []string{"*.iso"}, func(done, total int, rel string) {
		require.Equal(t, 3, total)
		progress = append(progress, done)
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, progress)
	require.Equal(t, 3, res.Files)
	require.True(t, strings.HasSuffix(res.Archive, "-nightly.tar.gz"))
	require.Equal(t, ManifestPath(res.Archive), res.Manifest)

	m, err := ReadManifest(res.Archive)
	require.NoError(t, err)
	require.Equal(t, "nightly", m.Label)
	require.Equal(t, res.Archive, m.Archive)
	require.Equal(t, []string{"*.iso"}, m.Excludes)
	require.Len(t, m.SHA256, 64)

	restoreRoot := filepath.Join(t.TempDir(), "restore")
	out, err := RestoreBackup(ctx, res.Archive, restoreRoot, false, nil)
	require.NoError(t, err)
	require.Equal(t, 3, out.Restored)

	require.Equal(t, "alpha", readFile(t, filepath.Join(restoreRoot, "a.txt")))
	require.Equal(t, "bravo", readFile(t, filepath.Join(restoreRoot, "docs", "b.md")))
	require.Equal(t, "charlie", readFile(t, filepath.Join(restoreRoot, "docs", "deep", "c.md")))
	for _, excluded := range []string{".git", "node_modules", ".compost", "media"} {
		_, err := os.Stat(filepath.Join(restoreRoot, excluded))
		require.True(t, os.IsNotExist(err), "%s should not be archived", excluded)
	}
}

func TestRestore_ConflictIsAtomic(t *testing.T) {
	ctx := context.Background()
	target := t.TempDir()
	writeFile(t, filepath.Join(target, "a.txt"), "A")
	writeFile(t, filepath.Join(target, "b.txt"), "B")
	writeFile(t, filepath.Join(target, "c.txt"), "C")

	res, err := CreateBackup(ctx, target, t.TempDir(), "snap", nil, nil)
	require.NoError(t, err)

	restoreRoot := t.TempDir()
	writeFile(t, filepath.Join(restoreRoot, "b.txt"), "local")

	_, err = RestoreBackup(ctx, res.Archive, restoreRoot, false, nil)
	require.True(t, errors.Is(err, errors.ErrConflict), "got %v", err)

	entries, err := os.ReadDir(restoreRoot)
	require.NoError(t, err)
	require.Len(t, entries, 1, "nothing extracted on conflict")
	require.Equal(t, "local", readFile(t, filepath.Join(restoreRoot, "b.txt")))

	out, err := RestoreBackup(ctx, res.Archive, restoreRoot, true, nil)
	require.NoError(t, err)
	require.Equal(t, 3, out.Restored)
	require.Equal(t, "B", readFile(t, filepath.Join(restoreRoot, "b.txt")))
}

func TestRestore_FileInPlaceOfParentIsAtomic(t *testing.T) {
	ctx := context.Background()
	target := t.TempDir()
	writeFile(t, filepath.Join(target, "a.txt"), "A")
	writeFile(t, filepath.Join(target, "docs", "b.md"), "B")
	writeFile(t, filepath.Join(target, "z.txt"), "Z")

	res, err := CreateBackup(ctx, target, t.TempDir(), "snap", nil, nil)
	require.NoError(t, err)

	for _, force := range []bool{false, true} {
		restoreRoot := t.TempDir()
		writeFile(t, filepath.Join(restoreRoot, "docs"), "not a dir")

		_, err = RestoreBackup(ctx, res.Archive, restoreRoot, force, nil)
		require.True(t, errors.Is(err, errors.ErrConflict), "force=%v: got %v", force, err)

		entries, err := os.ReadDir(restoreRoot)
		require.NoError(t, err)
		require.Len(t, entries, 1, "force=%v: nothing extracted", force)
		require.Equal(t, "not a dir", readFile(t, filepath.Join(restoreRoot, "docs")))
	}
}

func TestRestore_CollidingMembersRejected(t *testing.T) {
	tests := []struct {
		name    string
		members []string
	}{
		{"repeated name", []string{"a", "b", "a", "c"}},
		{"same cleaned path", []string{"a", "b", "./a"}},
		{"file used as parent", []string{"a", "b", "a/c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archivePath := filepath.Join(t.TempDir(), "dup.tar.gz")
			writeTar(t, archivePath, tt.members...)

			for _, force := range []bool{false, true} {
				restoreRoot := t.TempDir()
				_, err := RestoreBackup(context.Background(), archivePath, restoreRoot, force, nil)
				require.True(t, errors.Is(err, errors.ErrInvalidRequest), "force=%v: got %v", force, err)

				entries, err := os.ReadDir(restoreRoot)
				require.NoError(t, err)
				require.Empty(t, entries, "force=%v: nothing extracted", force)
			}
		})
	}
}

func TestRestore_MissingArchive(t *testing.T) {
	_, err := RestoreBackup(context.Background(), filepath.Join(t.TempDir(), "none.tar.gz"), t.TempDir(), false, nil)
	require.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)
}

func TestRestore_RejectsEscapingMembers(t *testing.T) {
	tests := []struct {
		name    string
		members []string
	}{
		{"parent traversal", []string{"ok.txt", "../evil.txt"}},
		{"nested traversal", []string{"a/../../evil.txt"}},
		{"absolute", []string{"/tmp/evil.txt"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archivePath := filepath.Join(t.TempDir(), "bad.tar.gz")
			writeTar(t, archivePath, tt.members...)

			restoreRoot := filepath.Join(t.TempDir(), "out")
			_, err := RestoreBackup(context.Background(), archivePath, restoreRoot, true, nil)
			require.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)

			_, statErr := os.Stat(filepath.Join(restoreRoot, "ok.txt"))
			require.True(t, os.IsNotExist(statErr), "no member extracted before rejection")
		})
	}
}

func TestRestore_SymlinkedParentRejected(t *testing.T) {
	outside := t.TempDir()
	restoreRoot := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(restoreRoot, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	archivePath := filepath.Join(t.TempDir(), "sneaky.tar.gz")
	writeTar(t, archivePath, "link/payload.txt")

	_, err := RestoreBackup(context.Background(), archivePath, restoreRoot, true, nil)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
	_, statErr := os.Stat(filepath.Join(outside, "payload.txt"))
	require.True(t, os.IsNotExist(statErr))
}

func TestCreateBackup_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dest := t.TempDir()
	_, err := CreateBackup(ctx, seedTarget(t), dest, "x", nil, nil)
	require.True(t, errors.Is(err, errors.ErrCancelled), "got %v", err)

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	require.Empty(t, entries, "no archive or temp file left behind")
}

func TestCreateBackup_MissingTarget(t *testing.T) {
	_, err := CreateBackup(context.Background(), filepath.Join(t.TempDir(), "gone"), t.TempDir(), "x", nil, nil)
	require.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)
}

func TestPlanWrite_StemAndLabel(t *testing.T) {
	ctx := context.Background()
	plan, err := NewPlan(ctx, seedTarget(t), nil)
	require.NoError(t, err)
	require.Equal(t, 4, plan.Files)

	now := time.Date(2024, 3, 9, 15, 4, 5, 0, time.UTC)
	dest := t.TempDir()
	res, err := plan.Write(ctx, dest, "../weekly run", now, nil)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dest, "20240309T150405Z-weekly-run.tar.gz"), res.Archive)

	_, err = plan.Write(ctx, dest, "weekly run", now, nil)
	require.True(t, errors.Is(err, errors.ErrConflict), "same stem must not overwrite, got %v", err)
}

func TestSanitizeLabel(t *testing.T) {
	tests := map[string]string{
		"nightly":        "nightly",
		"  ":             DefaultLabel,
		"a/b\\c":         "a-b-c",
		"..":             DefaultLabel,
		"pre release: 2": "pre-release-2",
	}
	for in, want := range tests {
		require.Equal(t, want, SanitizeLabel(in), "SanitizeLabel(%q)", in)
	}
}

func TestListBackups_NewestFirstAcrossDays(t *testing.T) {
	store := compost.Open(t.TempDir())
	for _, rel := range []string{
		"2024-03-07/backups/docs/20240307T100000Z-a.tar.gz",
		"2024-03-09/backups/docs/20240309T080000Z-c.tar.gz",
		"2024-03-09/backups/docs/20240309T080000Z-c.json",
		"2024-03-08/backups/docs/20240308T230000Z-b.tar.gz",
		"2024-03-09/backups/other/20240309T090000Z-z.tar.gz",
	} {
		writeFile(t, filepath.Join(store.Root(), filepath.FromSlash(rel)), "x")
	}

	got, err := ListBackups(store, "docs")
	require.NoError(t, err)

	var names []string
	for _, p := range got {
		names = append(names, filepath.Base(p))
	}
	require.Equal(t, []string{
		"20240309T080000Z-c.tar.gz",
		"20240308T230000Z-b.tar.gz",
		"20240307T100000Z-a.tar.gz",
	}, names)

	none, err := ListBackups(store, "missing")
	require.NoError(t, err)
	require.Empty(t, none)
}
