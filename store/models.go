package store

import "time"

type User struct {
	ID       int64  `json:"id"`
	GithubID string `json:"github_id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Picture  string `json:"picture"`
}

type Session struct {
	ID        string `json:"id"`
	UserID    int64  `json:"user_id"`
	ExpiresAt int64  `json:"expires_at"`
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
}

type Post struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	CreatedByID int64     `json:"createdById"`
	CreatedAt   time.Time `json:"createdAt"`
}
