package command

import (
	"log/slog"
	"time"

	"github.com/c360/chanbridge/pkg/ids"
)

// auditSource tags every routed command as externally originated, as opposed
// to actions taken by the bridge itself.
const auditSource = "external"

// AuditEntry records one routed command before its execution.
type AuditEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Channel   string         `json:"channel"`
	Action    string         `json:"action"`
	Username  string         `json:"username"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Source    string         `json:"source"`
}

// AuditLogger writes an audit record for each routed command.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates an audit logger writing through the given slog
// logger.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{logger: logger.With("component", "audit")}
}

// Record builds and logs an entry for one command. The acting username is
// taken from the explicit "username" argument, then "name", else "system".
func (a *AuditLogger) Record(channel, action string, args map[string]any) AuditEntry {
	entry := AuditEntry{
		ID:        ids.New(),
		Timestamp: time.Now().UTC(),
		Channel:   channel,
		Action:    action,
		Username:  usernameFrom(args),
		Arguments: args,
		Source:    auditSource,
	}

	a.logger.Info("command audit",
		"id", entry.ID,
		"channel", entry.Channel,
		"action", entry.Action,
		"username", entry.Username,
		"source", entry.Source)

	return entry
}

func usernameFrom(args map[string]any) string {
	if v, ok := args["username"].(string); ok && v != "" {
		return v
	}
	if v, ok := args["name"].(string); ok && v != "" {
		return v
	}
	return "system"
}
