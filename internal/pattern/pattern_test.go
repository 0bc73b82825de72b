package pattern

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func relAll(t *testing.T, root string, paths []string) []string {
	t.Helper()
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		rel, err := filepath.Rel(root, p)
		require.NoError(t, err)
		out = append(out, filepath.ToSlash(rel))
	}
	sort.Strings(out)
	return out
}

func TestIsJunk(t *testing.T) {
	c := NewClassifier("*.log")
	root := "/ws"

	tests := []struct {
		path string
		want bool
	}{
		{"/ws/notes.md.bak", true},
		{"/ws/draft.md", false},
		{"/ws/a/b/cache.tmp", true},
		{"/ws/editor.txt~", true},
		{"/ws/src/__pycache__", true},
		{"/ws/.DS_Store", true},
		{"/ws/run.log", true},
		{"/ws/.compost", false},
		{"/ws/tmp", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			require.Equal(t, tt.want, c.IsJunk(tt.path, root))
		})
	}
}

func TestIsJunk_RelativePattern(t *testing.T) {
	c := NewClassifier("logs/**/*.txt")
	require.True(t, c.IsJunk("/ws/logs/2024/a.txt", "/ws"))
	require.False(t, c.IsJunk("/ws/docs/a.txt", "/ws"))
}

func TestIsAllowed(t *testing.T) {
	allow := AllowSet([]string{"core", "README.md", " "})
	root := "/repo"

	require.True(t, IsAllowed("/repo/core", root, allow, false))
	require.True(t, IsAllowed("/repo/README.md", root, allow, false))
	require.False(t, IsAllowed("/repo/temp.log", root, allow, false))
	require.True(t, IsAllowed("/repo/.compost", root, allow, false))

	// recursive: any allowed segment spares the path
	require.True(t, IsAllowed("/repo/core/deep/file.go", root, allow, true))
	require.True(t, IsAllowed("/repo/sub/README.md", root, allow, true))
	require.True(t, IsAllowed("/repo/sub/.compost/x", root, allow, true))
	require.False(t, IsAllowed("/repo/sub/other.txt", root, allow, true))
	require.Len(t, allow, 2)
}

func TestIsExcluded(t *testing.T) {
	patterns := append(append([]string{}, DefaultBackupExcludes...), "*.iso", "media/raw")

	tests := []struct {
		rel  string
		want bool
	}{
		{".git/config", true},
		{"src/node_modules/x/index.js", true},
		{"build", true},
		{".compost/2024-01-01/archive/x", true},
		{"disk.iso", true},
		{"media/raw", true},
		{"media/raw/clip.mov", true},
		{"media/cooked/clip.mov", false},
		{"src/main.go", false},
		{"builder/main.go", false},
	}

	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			require.Equal(t, tt.want, IsExcluded(tt.rel, patterns))
		})
	}
}

func TestJunk_NonRecursive(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "notes.md.bak"), "12345678")
	writeFile(t, filepath.Join(root, "draft.md"), "12345678")
	writeFile(t, filepath.Join(root, "sub", "deep.tmp"), "x")

	got, err := NewClassifier().Junk(root, false)
	require.NoError(t, err)
	require.Equal(t, []string{"notes.md.bak"}, relAll(t, root, got))
}

func TestJunk_Recursive(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "notes.md.bak"), "x")
	writeFile(t, filepath.Join(root, "sub", "deep.tmp"), "x")
	writeFile(t, filepath.Join(root, "sub", "__pycache__", "m.pyc"), "x")
	writeFile(t, filepath.Join(root, ".git", "index.orig"), "x")
	writeFile(t, filepath.Join(root, ".compost", "2024-01-01", "archive", "old.bak"), "x")
	writeFile(t, filepath.Join(root, "keep.md"), "x")

	got, err := NewClassifier().Junk(root, true)
	require.NoError(t, err)
	require.Equal(t, []string{"notes.md.bak", "sub/__pycache__", "sub/deep.tmp"}, relAll(t, root, got))
}

func TestDisallowed_NonRecursive(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "core", "main.go"), "x")
	writeFile(t, filepath.Join(root, "README.md"), "x")
	writeFile(t, filepath.Join(root, "temp.log"), "x")
	writeFile(t, filepath.Join(root, "compost.json"), "{}")

	got, err := Disallowed(root, AllowSet([]string{"core", "README.md"}), false)
	require.NoError(t, err)
	require.Equal(t, []string{"temp.log"}, relAll(t, root, got))
}

func TestDisallowed_RecursiveSparesNestedAllowedNames(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "core", "main.go"), "x")
	writeFile(t, filepath.Join(root, "junkdir", "a.txt"), "x")
	writeFile(t, filepath.Join(root, "mixed", "README.md"), "x")
	writeFile(t, filepath.Join(root, "mixed", "scratch.txt"), "x")
	writeFile(t, filepath.Join(root, "mixed", ".compost", "x"), "x")

	got, err := Disallowed(root, AllowSet([]string{"core", "README.md"}), true)
	require.NoError(t, err)
	require.Equal(t, []string{"junkdir", "junkdir/a.txt", "mixed/scratch.txt"}, relAll(t, root, got))
}
