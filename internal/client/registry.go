package client

import (
	"sort"
	"sync"

	"annothub/pkg/models"
)

// Registry is the client's local view of who is present on the
// document. The server's document_users snapshot replaces it wholesale;
// everything else mutates it one user at a time.
type Registry struct {
	mu    sync.Mutex
	users map[string]models.CollaborationUser
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[string]models.CollaborationUser)}
}

func (r *Registry) ReplaceAll(users []models.CollaborationUser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = make(map[string]models.CollaborationUser, len(users))
	for _, u := range users {
		r.users[u.UserID] = u
	}
}

func (r *Registry) Add(u models.CollaborationUser) {
	r.mu.Lock()
	r.users[u.UserID] = u
	r.mu.Unlock()
}

func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	delete(r.users, userID)
	r.mu.Unlock()
}

func (r *Registry) SetCursor(userID string, cursor models.Cursor) {
	r.mu.Lock()
	if u, ok := r.users[userID]; ok {
		u.Cursor = &cursor
		r.users[userID] = u
	}
	r.mu.Unlock()
}

func (r *Registry) SetTyping(userID string, isTyping bool) {
	r.mu.Lock()
	if u, ok := r.users[userID]; ok {
		u.IsTyping = isTyping
		r.users[userID] = u
	}
	r.mu.Unlock()
}

func (r *Registry) Clear() {
	r.mu.Lock()
	r.users = make(map[string]models.CollaborationUser)
	r.mu.Unlock()
}

func (r *Registry) Snapshot() []models.CollaborationUser {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.CollaborationUser, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
