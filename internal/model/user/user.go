package user

import "time"

// User is the identity resolved from a verified credential. Owned by the auth
// subsystem and immutable for the lifetime of a session.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Seed provides the development accounts used when no external user store is configured.
func Seed(handles ...string) []User {
	if len(handles) == 0 {
		handles = []string{"alice", "bob", "carol"}
	}

	now := time.Now().UTC()
	users := make([]User, 0, len(handles))
	for i, handle := range handles {
		users = append(users, User{
			ID:        int64(i + 1),
			Username:  handle,
			CreatedAt: now,
		})
	}
	return users
}
