package mcp

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hpungsan/compost/internal/ops"
)

// ServerName is the name reported to MCP clients.
const ServerName = "compost"

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"compost_backup": {
		def:     backupToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBackup },
	},
	"compost_restore": {
		def:     restoreToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRestore },
	},
	"compost_list_backups": {
		def:     listBackupsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleListBackups },
	},
	"compost_tidy": {
		def:     tidyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTidy },
	},
	"compost_clean": {
		def:     cleanToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleClean },
	},
	"compost_compost": {
		def:     compostToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCompost },
	},
	"compost_stats": {
		def:     statsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStats },
	},
	"compost_cleanup": {
		def:     cleanupToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCleanup },
	},
	"compost_history": {
		def:     historyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistory },
	},
	"compost_recover": {
		def:     recoverToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRecover },
	},
}

// AllToolNames returns every registered tool name, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates an MCP server with the compost tools registered.
// Tools listed in the config's disabled_tools are skipped.
func NewServer(env *ops.Env, version string) *server.MCPServer {
	s := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	h := NewHandlers(env)

	for _, name := range ValidateDisabledTools(env.Config.DisabledTools) {
		env.Logger.Warn("unknown tool in disabled_tools", zap.String("tool", name))
	}
	disabled := make(map[string]bool, len(env.Config.DisabledTools))
	for _, name := range env.Config.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(env *ops.Env, version string) error {
	env.Logger.Info("mcp server starting", zap.String("version", version), zap.String("workspace", env.Config.WorkspaceRoot))
	return server.ServeStdio(NewServer(env, version))
}
