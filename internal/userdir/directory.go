package userdir

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

// Profile is a marketplace participant. PasswordHash is a bcrypt hash and
// never leaves the server.
type Profile struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type Directory interface {
	Create(ctx context.Context, p Profile) error
	GetByEmail(ctx context.Context, email string) (Profile, error)
	GetByID(ctx context.Context, id string) (Profile, error)
}

// MemoryDirectory is an in-memory Directory for development and tests.
type MemoryDirectory struct {
	mu      sync.RWMutex
	byID    map[string]Profile
	byEmail map[string]string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:    make(map[string]Profile),
		byEmail: make(map[string]string),
	}
}

func (d *MemoryDirectory) Create(ctx context.Context, p Profile) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.byEmail[p.Email]; exists {
		return ErrEmailTaken
	}
	d.byID[p.ID] = p
	d.byEmail[p.Email] = p.ID
	return nil
}

func (d *MemoryDirectory) GetByEmail(ctx context.Context, email string) (Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byEmail[email]
	if !ok {
		return Profile{}, ErrUserNotFound
	}
	return d.byID[id], nil
}

func (d *MemoryDirectory) GetByID(ctx context.Context, id string) (Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.byID[id]
	if !ok {
		return Profile{}, ErrUserNotFound
	}
	return p, nil
}
