package client

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"annothub/internal/presence"
	"annothub/pkg/models"
)

func envelope(msgType, userID string, data any) presence.Envelope {
	env := presence.Envelope{Type: msgType, UserID: userID}
	if data != nil {
		b, _ := json.Marshal(data)
		env.Data = b
	}
	return env
}

func TestDispatchSuppressesOwnEvents(t *testing.T) {
	var createdCalls, updatedCalls, deletedCalls int
	registry := NewRegistry()
	router := NewRouter("u1", registry, Callbacks{
		OnAnnotationCreated: func(json.RawMessage) { createdCalls++ },
		OnAnnotationUpdated: func(json.RawMessage) { updatedCalls++ },
		OnAnnotationDeleted: func(json.RawMessage) { deletedCalls++ },
	})

	// every userId-bearing type from the local user is an echo
	router.Dispatch(envelope(presence.TypeAnnotationCreated, "u1", map[string]any{"id": "a1"}))
	router.Dispatch(envelope(presence.TypeAnnotationUpdated, "u1", map[string]any{"id": "a1"}))
	router.Dispatch(envelope(presence.TypeAnnotationDeleted, "u1", map[string]any{"id": "a1"}))
	router.Dispatch(envelope(presence.TypeUserJoined, "u1", map[string]any{"connectionId": "c1"}))
	router.Dispatch(envelope(presence.TypeCursorMove, "u1", presence.CursorMoveData{Page: 1}))
	router.Dispatch(envelope(presence.TypeUserTyping, "u1", presence.UserTypingData{IsTyping: true}))

	assert.Zero(t, createdCalls)
	assert.Zero(t, updatedCalls)
	assert.Zero(t, deletedCalls)
	assert.Empty(t, registry.Snapshot())
}

func TestDispatchRemoteAnnotationCreated(t *testing.T) {
	var got json.RawMessage
	router := NewRouter("u1", NewRegistry(), Callbacks{
		OnAnnotationCreated: func(data json.RawMessage) { got = data },
	})

	router.Dispatch(envelope(presence.TypeAnnotationCreated, "u2", map[string]any{"id": "ann1"}))

	require.NotNil(t, got)
	assert.Contains(t, string(got), "ann1")
}

func TestDispatchDocumentUsersReplacesWholesale(t *testing.T) {
	registry := NewRegistry()
	router := NewRouter("u1", registry, Callbacks{})

	registry.Add(models.CollaborationUser{ConnectionID: "stale", UserID: "gone"})

	router.Dispatch(envelope(presence.TypeDocumentUsers, "", map[string]any{
		"users": []models.CollaborationUser{
			{ConnectionID: "c1", UserID: "u1"},
			{ConnectionID: "c2", UserID: "u2"},
		},
	}))

	snapshot := registry.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "u1", snapshot[0].UserID)
	assert.Equal(t, "u2", snapshot[1].UserID)
}

func TestDispatchJoinLeave(t *testing.T) {
	registry := NewRegistry()
	router := NewRouter("u1", registry, Callbacks{})

	router.Dispatch(envelope(presence.TypeUserJoined, "u2", map[string]any{"connectionId": "c2"}))
	require.Len(t, registry.Snapshot(), 1)

	// join replaces, not duplicates
	router.Dispatch(envelope(presence.TypeUserJoined, "u2", map[string]any{"connectionId": "c3"}))
	snapshot := registry.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "c3", snapshot[0].ConnectionID)

	router.Dispatch(envelope(presence.TypeUserLeft, "u2", nil))
	assert.Empty(t, registry.Snapshot())
}

func TestDispatchEphemeralState(t *testing.T) {
	registry := NewRegistry()
	router := NewRouter("u1", registry, Callbacks{})

	router.Dispatch(envelope(presence.TypeUserJoined, "u2", map[string]any{"connectionId": "c2"}))
	router.Dispatch(envelope(presence.TypeCursorMove, "u2", presence.CursorMoveData{Page: 3, X: 0.4, Y: 0.7}))
	router.Dispatch(envelope(presence.TypeUserTyping, "u2", presence.UserTypingData{IsTyping: true}))

	snapshot := registry.Snapshot()
	require.Len(t, snapshot, 1)
	require.NotNil(t, snapshot[0].Cursor)
	assert.Equal(t, 3, snapshot[0].Cursor.Page)
	assert.True(t, snapshot[0].IsTyping)
}

func TestDispatchUnknownTypeIgnored(t *testing.T) {
	registry := NewRegistry()
	router := NewRouter("u1", registry, Callbacks{})

	assert.NotPanics(t, func() {
		router.Dispatch(envelope("telemetry_ping", "u2", map[string]any{"n": 1}))
	})
	assert.Empty(t, registry.Snapshot())
}

func TestDispatchErrorCallback(t *testing.T) {
	var got string
	router := NewRouter("u1", NewRegistry(), Callbacks{
		OnError: func(message string) { got = message },
	})

	router.Dispatch(envelope(presence.TypeError, "", presence.ErrorData{Message: "room full"}))
	assert.Equal(t, "room full", got)
}

func TestDispatchMalformedDataDropped(t *testing.T) {
	registry := NewRegistry()
	router := NewRouter("u1", registry, Callbacks{})

	env := presence.Envelope{Type: presence.TypeDocumentUsers, Data: json.RawMessage(`{"users": 42}`)}
	assert.NotPanics(t, func() { router.Dispatch(env) })
	assert.Empty(t, registry.Snapshot())
}
