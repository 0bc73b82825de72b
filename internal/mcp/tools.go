package mcp

import "github.com/mark3labs/mcp-go/mcp"

// Shared argument descriptions.
const (
	scopeDesc     = "Scope token: current, +subfolders, workspace, or all. Any other value means the memory root."
	rootDesc      = "Explicit directory to act on. Takes precedence over scope. Relative paths resolve against the server's working directory."
	recursiveDesc = "Descend into subdirectories. Defaults to the scope's own setting."
	dryRunDesc    = "Report what would move without touching anything."
)

func withTarget() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("scope", mcp.Description(scopeDesc)),
		mcp.WithString("root", mcp.Description(rootDesc)),
		mcp.WithBoolean("recursive", mcp.Description(recursiveDesc)),
	}
}

func newTool(name string, opts ...mcp.ToolOption) mcp.Tool {
	return mcp.NewTool(name, opts...)
}

func targetTool(name string, opts ...mcp.ToolOption) mcp.Tool {
	return newTool(name, append(withTarget(), opts...)...)
}

var backupToolDef = targetTool("compost_backup",
	mcp.WithDescription("Snapshot a directory into a timestamped .tar.gz (with a JSON manifest) in today's backups tier. "+
		"VCS, virtualenv, dependency, cache, and build directories are always excluded. "+
		"Older compost is evicted first if the volume reserve or compost cap would be breached."),
	mcp.WithString("label", mcp.Description("Label appended to the archive name. Defaults to \"backup\".")),
	mcp.WithArray("excludes",
		mcp.Description("Extra glob patterns to exclude, matched against names and root-relative paths."),
		mcp.WithStringItems()),
)

var restoreToolDef = targetTool("compost_restore",
	mcp.WithDescription("Extract a backup archive. Without archive, the newest backup of the target is used. "+
		"Without a target, the archive's recorded root is used. "+
		"Nothing is written if any file would be overwritten, unless force is set."),
	mcp.WithString("archive", mcp.Description("Path to the .tar.gz to restore.")),
	mcp.WithBoolean("force", mcp.Description("Overwrite existing files.")),
	mcp.WithDestructiveHintAnnotation(true),
)

var listBackupsToolDef = targetTool("compost_list_backups",
	mcp.WithDescription("List every backup of the target across all days, newest first, with manifests."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var tidyToolDef = targetTool("compost_tidy",
	mcp.WithDescription("Move junk (editor swap and backup files, bytecode, caches, OS metadata) into today's archive tier. "+
		"Moves are recorded and can be undone with compost_recover."),
	mcp.WithBoolean("dry_run", mcp.Description(dryRunDesc)),
)

var cleanToolDef = targetTool("compost_clean",
	mcp.WithDescription("Move everything not allow-listed into today's trash tier. "+
		"Requires an allow-list, either passed here or configured as clean_allow."),
	mcp.WithArray("allow",
		mcp.Description("Names to keep. Recursive scopes keep any path with an allowed segment."),
		mcp.WithStringItems()),
	mcp.WithBoolean("dry_run", mcp.Description(dryRunDesc)),
	mcp.WithDestructiveHintAnnotation(true),
)

var compostToolDef = targetTool("compost_compost",
	mcp.WithDescription("Gather ad-hoc holding directories (.archive, .tmp, .temp, .backup, .backups, .trash) "+
		"into the matching tier of today's compost."),
	mcp.WithBoolean("dry_run", mcp.Description(dryRunDesc)),
)

var statsToolDef = newTool("compost_stats",
	mcp.WithDescription("Report the compost tree's entry count, total bytes, latest change, and the volume's free space."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var cleanupToolDef = newTool("compost_cleanup",
	mcp.WithDescription("Permanently delete whole day buckets older than days. Dry run unless dry_run is false."),
	mcp.WithNumber("days", mcp.Required(), mcp.Description("Age threshold in days."), mcp.Min(0)),
	mcp.WithBoolean("dry_run", mcp.Description("Report only. Defaults to true."), mcp.DefaultBool(true)),
	mcp.WithDestructiveHintAnnotation(true),
)

var historyToolDef = targetTool("compost_history",
	mcp.WithDescription("List recorded moves, newest first, with their status (in_compost, recovered, evicted). "+
		"Without scope or root, all scopes are listed."),
	mcp.WithString("op", mcp.Description("Filter by operation."), mcp.Enum("tidy", "clean", "compost")),
	mcp.WithString("status", mcp.Description("Filter by status."), mcp.Enum("in_compost", "recovered", "evicted")),
	mcp.WithNumber("limit", mcp.Description("Page size (default 50, max 500).")),
	mcp.WithNumber("offset", mcp.Description("Page offset.")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var recoverToolDef = newTool("compost_recover",
	mcp.WithDescription("Move a composted item back to its original path. Fails if that path is occupied."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Move ID from compost_history or a move result.")),
)
