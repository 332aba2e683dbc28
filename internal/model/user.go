package model

import (
	"time"

	"github.com/google/uuid"
)

// User is the primary signed-in identity. Per-mailbox credentials live on
// ConnectedAccount, never here.
type User struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"provider_id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func NewUser(providerID, email, name string) *User {
	now := time.Now()
	return &User{
		ID:         uuid.New().String(),
		ProviderID: providerID,
		Email:      email,
		Name:       name,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
