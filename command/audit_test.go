package command

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oklog/ulid/v2"
)

func TestAuditRecord_UsernamePrecedence(t *testing.T) {
	a := NewAuditLogger(slog.Default())

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"explicit username wins", map[string]any{"username": "alice", "name": "bob"}, "alice"},
		{"falls back to name", map[string]any{"name": "bob"}, "bob"},
		{"system placeholder", map[string]any{"url": "yt:abc"}, "system"},
		{"empty username ignored", map[string]any{"username": "", "name": "bob"}, "bob"},
		{"ill-typed username ignored", map[string]any{"username": 42}, "system"},
		{"nil args", nil, "system"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := a.Record("lounge", "kick_user", tt.args)
			assert.Equal(t, tt.want, entry.Username)
		})
	}
}

func TestAuditRecord_Entry(t *testing.T) {
	a := NewAuditLogger(nil)

	entry := a.Record("lounge", "chat", map[string]any{"message": "hi", "username": "alice"})

	assert.Equal(t, "lounge", entry.Channel)
	assert.Equal(t, "chat", entry.Action)
	assert.Equal(t, "external", entry.Source)
	assert.False(t, entry.Timestamp.IsZero())

	_, err := ulid.Parse(entry.ID)
	assert.NoError(t, err)
}

func TestAuditedDispatch(t *testing.T) {
	conn := &fakeConnector{}
	sub := &fakeSubscriber{}
	r := NewRouter("cytu.be", "lounge", conn, sub,
		WithAuditLogger(NewAuditLogger(slog.Default())))

	outcome := r.Dispatch(context.Background(), "chat", []byte(`{"message":"hi","username":"alice"}`))
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.Equal(t, []string{"SendChat"}, conn.callNames())
}
