package ticketplugin

import (
	"fmt"
	"strings"
)

// PluginNotFoundError reports a tool type with no registered plugin.
type PluginNotFoundError struct {
	ToolType  string
	Available []string // sorted
}

func (e *PluginNotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("no plugin registered for tool type %q (no plugins registered)", e.ToolType)
	}
	return fmt.Sprintf("no plugin registered for tool type %q (available: %s)",
		e.ToolType, strings.Join(e.Available, ", "))
}

// PluginValidationError reports a malformed registration attempt.
type PluginValidationError struct {
	ToolType string
	Reason   string
}

func (e *PluginValidationError) Error() string {
	return fmt.Sprintf("invalid plugin registration %q: %s", e.ToolType, e.Reason)
}
