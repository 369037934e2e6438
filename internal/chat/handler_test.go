package chat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"annothub/internal/auth"
	"annothub/pkg/database"
	"annothub/pkg/models"
)

var chatTokens = auth.TokenService{
	Secret:   []byte("test-secret"),
	Issuer:   "test",
	Duration: time.Hour,
}

func newChatRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	router := gin.New()
	public := router.Group("/api")
	protected := router.Group("/api")
	protected.Use(auth.AuthMiddleware(chatTokens))
	NewHandler(NewRepo(db)).RegisterRoutes(public, protected)

	return router
}

func signToken(t *testing.T, userID, name string) string {
	t.Helper()
	token, _, err := chatTokens.Sign(userID, name)
	require.NoError(t, err)
	return token
}

func chatRequest(router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func postMessage(t *testing.T, router *gin.Engine, token, sessionID, text string) models.ChatMessage {
	t.Helper()

	w := chatRequest(router, http.MethodPost, "/api/chat/messages", token, map[string]any{
		"session_id": sessionID,
		"message":    text,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Data models.ChatMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data
}

func TestPostResolvesNameFromIdentity(t *testing.T) {
	router := newChatRouter(t)
	token := signToken(t, "u1", "alice")

	msg := postMessage(t, router, token, "doc1", "hello")

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "u1", msg.UserID)
	// display name comes from the token, not the request body
	assert.Equal(t, "alice", msg.UserName)
	assert.Equal(t, "text", msg.MessageType)
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestPostRequiresAuth(t *testing.T) {
	router := newChatRouter(t)

	w := chatRequest(router, http.MethodPost, "/api/chat/messages", "", map[string]any{
		"session_id": "doc1",
		"message":    "hello",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPostRejectsEmptyMessage(t *testing.T) {
	router := newChatRouter(t)
	token := signToken(t, "u1", "alice")

	w := chatRequest(router, http.MethodPost, "/api/chat/messages", token, map[string]any{
		"session_id": "doc1",
		"message":    "   ",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListPaginated(t *testing.T) {
	router := newChatRouter(t)
	token := signToken(t, "u1", "alice")

	for _, text := range []string{"one", "two", "three"} {
		postMessage(t, router, token, "doc1", text)
		time.Sleep(5 * time.Millisecond) // distinct created_at
	}

	w := chatRequest(router, http.MethodGet, "/api/chat/messages?session_id=doc1&page=1&limit=10", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data       []models.ChatMessage `json:"data"`
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Pagination.Total)
	require.Len(t, resp.Data, 3)
	assert.Equal(t, "one", resp.Data[0].Message)
	assert.Equal(t, "three", resp.Data[2].Message)
}

func TestListSince(t *testing.T) {
	router := newChatRouter(t)
	token := signToken(t, "u1", "alice")

	postMessage(t, router, token, "doc1", "old")
	time.Sleep(5 * time.Millisecond)
	pivot := postMessage(t, router, token, "doc1", "pivot")
	time.Sleep(5 * time.Millisecond)
	postMessage(t, router, token, "doc1", "new")

	since := pivot.CreatedAt.Format(time.RFC3339Nano)
	w := chatRequest(router, http.MethodGet, "/api/chat/messages?session_id=doc1&since="+since, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []models.ChatMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "new", resp.Data[0].Message)
}

func TestListRequiresSession(t *testing.T) {
	router := newChatRouter(t)

	w := chatRequest(router, http.MethodGet, "/api/chat/messages", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteOwnMessage(t *testing.T) {
	router := newChatRouter(t)
	token := signToken(t, "u1", "alice")

	msg := postMessage(t, router, token, "doc1", "mine")

	w := chatRequest(router, http.MethodDelete, "/api/chat/messages?message_id="+msg.ID, token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDeleteForeignMessageForbidden(t *testing.T) {
	router := newChatRouter(t)
	alice := signToken(t, "u1", "alice")
	bob := signToken(t, "u2", "bob")

	msg := postMessage(t, router, alice, "doc1", "alice's message")

	w := chatRequest(router, http.MethodDelete, "/api/chat/messages?message_id="+msg.ID, bob, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// still listed
	w = chatRequest(router, http.MethodGet, "/api/chat/messages?session_id=doc1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alice")
}

func TestDeleteMissingMessageNotFound(t *testing.T) {
	router := newChatRouter(t)
	token := signToken(t, "u1", "alice")

	w := chatRequest(router, http.MethodDelete, "/api/chat/messages?message_id=nope", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
