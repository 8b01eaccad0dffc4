package users

import (
	"context"
	"fmt"
	"sync"
)

// SeedPassword is the password of every user returned by SeedUsers.
const SeedPassword = "password123"

// MemoryStore is an in-memory Lookup.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]User
}

var _ Lookup = (*MemoryStore)(nil)

// NewMemoryStore creates a store holding users.
func NewMemoryStore(users ...User) *MemoryStore {
	s := &MemoryStore{users: make(map[string]User, len(users))}
	for _, u := range users {
		s.Put(u)
	}
	return s
}

// Put adds or replaces a user.
func (s *MemoryStore) Put(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Email = NormalizeEmail(u.Email)
	s.users[u.Email] = u
}

// Replace swaps the whole user set in one step.
func (s *MemoryStore) Replace(users []User) {
	next := make(map[string]User, len(users))
	for _, u := range users {
		u.Email = NormalizeEmail(u.Email)
		next[u.Email] = u
	}

	s.mu.Lock()
	s.users = next
	s.mu.Unlock()
}

// Len returns the number of users.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// FindByEmail implements Lookup.
func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[NormalizeEmail(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

// SeedUsers returns the demo users, all with password SeedPassword.
func SeedUsers() ([]User, error) {
	hash, err := HashPassword(SeedPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to hash seed password: %w", err)
	}

	seed := []User{
		{Name: "Ahmet Yilmaz", Email: "ahmet@example.com", Department: "Engineering"},
		{Name: "Elif Kaya", Email: "elif@example.com", Department: "Marketing"},
		{Name: "Mehmet Demir", Email: "mehmet@example.com", Department: "Engineering"},
		{Name: "Zeynep Arslan", Email: "zeynep@example.com", Department: "HR"},
		{Name: "Can Ozturk", Email: "can@example.com", Department: "Marketing"},
	}
	for i := range seed {
		seed[i].PasswordHash = hash
	}
	return seed, nil
}
