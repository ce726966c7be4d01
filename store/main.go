package store

type Store interface {
	CreateUser(user *User) (int64, error)
	UserByGithubID(githubID string) (*User, error)
	DeleteUser(userID int64) error
	CreateSession(session *Session) error
	DeleteSessionByUserID(userID int64) (err error)
	DeleteSessionBySessionID(sessionID string) (err error)
	SessionAndUserBySessionID(sessionID string) (*Session, *User, error)
	RefreshSession(sessionID string, newExpiresAt int64) error
	CreatePost(name string, userID int64) (*Post, error)
	LatestPostByUserID(userID int64) (*Post, error)
}

func New(dbPath string) (Store, error) {
	return newSQLiteStore(dbPath)
}
