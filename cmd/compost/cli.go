package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/compost/internal/errors"
	"github.com/hpungsan/compost/internal/mcp"
	"github.com/hpungsan/compost/internal/ops"
)

// maxStdinBytes bounds an allow-list read from stdin.
const maxStdinBytes = 1 << 20

// newCLIApp creates the CLI application with all commands.
// env may be nil when only help or version output is needed.
func newCLIApp(env *ops.Env) *cli.App {
	app := &cli.App{
		Name:    "compost",
		Usage:   "Local filesystem lifecycle manager",
		Version: Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "human", Usage: "Print a readable summary instead of JSON"},
		},
		Commands: []*cli.Command{
			backupCmd(env),
			restoreCmd(env),
			backupsCmd(env),
			tidyCmd(env),
			cleanCmd(env),
			compostCmd(env),
			statsCmd(env),
			cleanupCmd(env),
			historyCmd(env),
			recoverCmd(env),
			serveCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// targetFlags are shared by every command acting on a directory.
func targetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "scope", Aliases: []string{"s"}, Usage: "Scope token: current|+subfolders|workspace|all (others: memory root)"},
		&cli.StringFlag{Name: "root", Aliases: []string{"r"}, Usage: "Explicit directory (overrides --scope)"},
		&cli.BoolFlag{Name: "recursive", Aliases: []string{"R"}, Usage: "Descend into subdirectories"},
	}
}

// targetFrom reads the target flags. A positional argument is taken as the root.
func targetFrom(c *cli.Context, positional bool) ops.Target {
	t := ops.Target{
		Scope: c.String("scope"),
		Root:  c.String("root"),
	}
	if positional && t.Root == "" && c.NArg() > 0 {
		t.Root = c.Args().First()
	}
	if t.Root == "" && t.Scope == "" {
		t.Scope = "current"
	}
	if c.IsSet("recursive") {
		recursive := c.Bool("recursive")
		t.Recursive = &recursive
	}
	return t
}

func dryRunFlag() cli.Flag {
	return &cli.BoolFlag{Name: "dry-run", Aliases: []string{"n"}, Usage: "Show what would move without moving"}
}

// backupCmd creates the backup command.
func backupCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "backup",
		Usage:     "Snapshot a directory into today's backups tier",
		ArgsUsage: "[dir]",
		Flags: append(targetFlags(),
			&cli.StringFlag{Name: "label", Aliases: []string{"l"}, Usage: "Archive label (default \"backup\")"},
			&cli.StringSliceFlag{Name: "exclude", Aliases: []string{"x"}, Usage: "Extra exclude glob (repeatable)"},
			&cli.BoolFlag{Name: "progress", Usage: "Report progress on stderr"},
		),
		Action: func(c *cli.Context) error {
			input := ops.BackupInput{
				Target:   targetFrom(c, true),
				Label:    c.String("label"),
				Excludes: c.StringSlice("exclude"),
			}
			if c.Bool("progress") {
				input.OnProgress = stderrProgress
			}

			output, err := ops.Backup(c.Context, env, input)
			if err != nil {
				return outputError(err)
			}

			return render(c, output)
		},
	}
}

// restoreCmd creates the restore command.
func restoreCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "Extract a backup (default: the newest backup of the target)",
		ArgsUsage: "[archive]",
		Flags: append(targetFlags(),
			&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "Overwrite existing files"},
			&cli.BoolFlag{Name: "progress", Usage: "Report progress on stderr"},
		),
		Action: func(c *cli.Context) error {
			input := ops.RestoreInput{
				Target: ops.Target{Scope: c.String("scope"), Root: c.String("root")},
				Force:  c.Bool("force"),
			}
			if c.NArg() > 0 {
				input.Archive = c.Args().First()
			} else if input.Target.Root == "" && input.Target.Scope == "" {
				input.Target.Scope = "current"
			}
			if c.Bool("progress") {
				input.OnProgress = stderrProgress
			}

			output, err := ops.Restore(c.Context, env, input)
			if err != nil {
				return outputError(err)
			}

			return render(c, output)
		},
	}
}

// backupsCmd creates the backups command.
func backupsCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "backups",
		Usage:     "List backups of a directory, newest first",
		ArgsUsage: "[dir]",
		Flags:     targetFlags(),
		Action: func(c *cli.Context) error {
			output, err := ops.ListBackups(env, ops.ListBackupsInput{Target: targetFrom(c, true)})
			if err != nil {
				return outputError(err)
			}

			return render(c, output)
		},
	}
}

// tidyCmd creates the tidy command.
func tidyCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "tidy",
		Usage:     "Move junk files into today's archive tier",
		ArgsUsage: "[dir]",
		Flags:     append(targetFlags(), dryRunFlag()),
		Action: func(c *cli.Context) error {
			output, err := ops.Tidy(c.Context, env, ops.MoveInput{
				Target: targetFrom(c, true),
				DryRun: c.Bool("dry-run"),
			})
			if err != nil {
				return outputError(err)
			}

			return render(c, output)
		},
	}
}

// cleanCmd creates the clean command.
func cleanCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "clean",
		Usage:     "Move everything not allow-listed into today's trash tier",
		ArgsUsage: "[dir]",
		Flags: append(targetFlags(),
			&cli.StringFlag{Name: "allow", Aliases: []string{"a"}, Usage: "Comma-separated names to keep, or - to read one per line from stdin"},
			dryRunFlag(),
		),
		Action: func(c *cli.Context) error {
			allow := parseList(c.String("allow"))
			if c.String("allow") == "-" {
				if !stdinHasData() {
					return outputError(errors.NewInvalidRequest("--allow - requires names piped via stdin"))
				}
				text, err := readStdin(maxStdinBytes)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				allow = parseLines(text)
			}

			output, err := ops.Clean(c.Context, env, ops.CleanInput{
				Target: targetFrom(c, true),
				Allow:  allow,
				DryRun: c.Bool("dry-run"),
			})
			if err != nil {
				return outputError(err)
			}

			return render(c, output)
		},
	}
}

// compostCmd creates the compost command.
func compostCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "compost",
		Usage:     "Gather .archive/.tmp/.backup/.trash holding directories into today's compost",
		ArgsUsage: "[dir]",
		Flags:     append(targetFlags(), dryRunFlag()),
		Action: func(c *cli.Context) error {
			output, err := ops.Compost(c.Context, env, ops.MoveInput{
				Target: targetFrom(c, true),
				DryRun: c.Bool("dry-run"),
			})
			if err != nil {
				return outputError(err)
			}

			return render(c, output)
		},
	}
}

// statsCmd creates the stats command.
func statsCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show compost size, entry count, and free space",
		Action: func(c *cli.Context) error {
			output, err := ops.Stats(env)
			if err != nil {
				return outputError(err)
			}

			return render(c, output)
		},
	}
}

// cleanupCmd creates the cleanup command.
func cleanupCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Delete day buckets older than a threshold (dry run unless --apply)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "older-than", Aliases: []string{"o"}, Required: true, Usage: "Age threshold, e.g. 30d"},
			&cli.BoolFlag{Name: "apply", Usage: "Actually delete"},
		},
		Action: func(c *cli.Context) error {
			days, err := parseDuration(c.String("older-than"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			dryRun := !c.Bool("apply")

			output, err := ops.Cleanup(env, ops.CleanupInput{Days: &days, DryRun: &dryRun})
			if err != nil {
				return outputError(err)
			}

			return render(c, output)
		},
	}
}

// historyCmd creates the history command.
func historyCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recorded moves, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "scope", Aliases: []string{"s"}, Usage: "Only this scope"},
			&cli.StringFlag{Name: "root", Aliases: []string{"r"}, Usage: "Only this directory"},
			&cli.StringFlag{Name: "op", Usage: "Filter by operation: tidy|clean|compost"},
			&cli.StringFlag{Name: "status", Usage: "Filter by status: in_compost|recovered|evicted"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Value: 0, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.History(env, ops.HistoryInput{
				Target: ops.Target{Scope: c.String("scope"), Root: c.String("root")},
				Op:     c.String("op"),
				Status: c.String("status"),
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}

			return render(c, output)
		},
	}
}

// recoverCmd creates the recover command.
func recoverCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "recover",
		Usage:     "Move a composted item back to its original path",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			output, err := ops.Recover(c.Context, env, ops.RecoverInput{ID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}

			return render(c, output)
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the MCP server on stdio",
		Action: func(c *cli.Context) error {
			return mcp.Run(env, Version)
		},
	}
}

// render writes v as indented JSON, or as a summary with --human.
func render(c *cli.Context, v any) error {
	if c.Bool("human") {
		return outputHuman(os.Stdout, v, time.Now())
	}
	return outputJSON(v)
}

// outputJSON writes JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputHuman writes a short readable summary. Types without one fall back to JSON.
func outputHuman(w io.Writer, v any, now time.Time) error {
	switch o := v.(type) {
	case *ops.MoveOutput:
		fmt.Fprintln(w, o.Message)
		for _, item := range o.Items {
			fmt.Fprintf(w, "  %-8s %9s  %s\n", item.Tier, humanize.IBytes(uint64(item.Bytes)), item.Source)
		}
		for _, f := range o.Failed {
			fmt.Fprintf(w, "  failed   %s: %s\n", f.Source, f.Error)
		}
		if o.Capacity != nil && o.Capacity.Shortfall() > 0 {
			fmt.Fprintf(w, "warning: could not free %s of compost\n", humanize.IBytes(uint64(o.Capacity.Shortfall())))
		}
	case *ops.BackupOutput:
		fmt.Fprintln(w, o.Message)
		fmt.Fprintf(w, "  %s (%s from %s)\n", o.Archive, humanize.IBytes(uint64(o.Size)), humanize.IBytes(uint64(o.Bytes)))
	case *ops.RestoreOutput:
		fmt.Fprintln(w, o.Message)
	case *ops.ListBackupsOutput:
		if len(o.Items) == 0 {
			fmt.Fprintf(w, "No backups for %s\n", o.Root)
		}
		for _, b := range o.Items {
			fmt.Fprintf(w, "%9s  %s\n", humanize.IBytes(uint64(b.Bytes)), b.Archive)
		}
	case *ops.StatsOutput:
		fmt.Fprintf(w, "%s: %s in %s\n", o.Path, humanize.IBytes(uint64(o.TotalBytes)), humanize.Comma(int64(o.Entries))+" entries")
		if o.LatestUpdate != nil {
			fmt.Fprintf(w, "  last change %s\n", humanize.RelTime(*o.LatestUpdate, now, "ago", "from now"))
		}
		if o.FreeBytes >= 0 {
			fmt.Fprintf(w, "  free %s, reserve %s\n", humanize.IBytes(uint64(o.FreeBytes)), humanize.IBytes(uint64(o.ReserveBytes)))
		}
		if o.MaxCompostBytes > 0 {
			fmt.Fprintf(w, "  cap %s\n", humanize.IBytes(uint64(o.MaxCompostBytes)))
		}
	case *ops.CleanupOutput:
		fmt.Fprintln(w, o.Message)
		for _, name := range o.Deleted {
			fmt.Fprintf(w, "  %s\n", name)
		}
	case *ops.HistoryOutput:
		for _, m := range o.Items {
			moved := time.Unix(m.MovedAt, 0)
			fmt.Fprintf(w, "%s  %-7s %-10s %9s  %s  (%s)\n", m.ID, m.Op, m.Status,
				humanize.IBytes(uint64(m.Bytes)), m.SourcePath, humanize.RelTime(moved, now, "ago", "from now"))
		}
		if o.Pagination.HasMore {
			fmt.Fprintf(w, "... %d more\n", o.Pagination.Total-o.Pagination.Offset-len(o.Items))
		}
	case *ops.RecoverOutput:
		fmt.Fprintln(w, o.Message)
	default:
		return outputJSON(v)
	}
	return nil
}

// outputError formats error for CLI.
func outputError(err error) error {
	var cErr *errors.CompostError
	if stderrors.As(err, &cErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", cErr.Code, cErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stderrProgress prints archive progress on one updating stderr line.
func stderrProgress(done, total int, rel string) {
	fmt.Fprintf(os.Stderr, "\r[%d/%d] %s\033[K", done, total, rel)
	if done == total {
		fmt.Fprintln(os.Stderr)
	}
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin, up to limit bytes.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("stdin exceeds %s", humanize.IBytes(uint64(limit)))
	}
	return strings.TrimSpace(string(data)), nil
}

// parseList splits a comma-separated string, dropping blanks and "-".
func parseList(s string) []string {
	if s == "" || s == "-" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseLines splits text into trimmed non-empty lines.
func parseLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// parseDuration parses "7d" (or a bare day count) to days.
func parseDuration(s string) (int, error) {
	numStr, _ := strings.CutSuffix(strings.TrimSpace(s), "d")
	days, err := strconv.Atoi(numStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: use days, e.g. 7d", s)
	}
	if days < 0 {
		return 0, fmt.Errorf("duration must be non-negative")
	}
	return days, nil
}
