package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrSessionNotFound = errors.New("session not found")
)

type sqliteStore struct {
	db    *sql.DB
	mutex sync.Mutex
}

func newSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error enabling foreign keys: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	store := &sqliteStore{
		db: db,
	}

	if err := store.initializeTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing tables: %w", err)
	}

	return store, nil
}

func (s *sqliteStore) initializeTables() error {
	_, err := s.db.Exec(`
        CREATE TABLE IF NOT EXISTS user (
            id INTEGER NOT NULL PRIMARY KEY,
            github_id TEXT NOT NULL UNIQUE,
            email TEXT NOT NULL UNIQUE,
            name TEXT NOT NULL,
            picture TEXT NOT NULL
        )
    `)
	if err != nil {
		return fmt.Errorf("error creating user table: %w", err)
	}

	_, err = s.db.Exec(`
        CREATE INDEX IF NOT EXISTS github_id_index ON user(github_id)
    `)
	if err != nil {
		return fmt.Errorf("error creating github_id index: %w", err)
	}

	_, err = s.db.Exec(`
        CREATE TABLE IF NOT EXISTS session (
            id TEXT NOT NULL PRIMARY KEY,
            user_id INTEGER NOT NULL REFERENCES user(id),
            expires_at INTEGER NOT NULL,
            ip_address TEXT NOT NULL DEFAULT '',
            user_agent TEXT NOT NULL DEFAULT ''
        )
    `)
	if err != nil {
		return fmt.Errorf("error creating session table: %w", err)
	}

	_, err = s.db.Exec(`
        CREATE TABLE IF NOT EXISTS post (
            id INTEGER NOT NULL PRIMARY KEY,
            name TEXT NOT NULL,
            created_by_id INTEGER NOT NULL REFERENCES user(id),
            created_at INTEGER NOT NULL
        )
    `)
	if err != nil {
		return fmt.Errorf("error creating post table: %w", err)
	}

	_, err = s.db.Exec(`
        CREATE INDEX IF NOT EXISTS post_owner_index ON post(created_by_id, created_at)
    `)
	if err != nil {
		return fmt.Errorf("error creating post owner index: %w", err)
	}

	return nil
}

func (s *sqliteStore) CreateUser(user *User) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	query := `
        INSERT INTO user (github_id, email, name, picture)
        VALUES (?, ?, ?, ?)
    `
	var result sql.Result
	result, err := s.db.Exec(query, user.GithubID, user.Email, user.Name, user.Picture)
	if err != nil {
		return 0, fmt.Errorf("error creating user: %w", err)
	}

	userID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("error getting last insert id: %w", err)
	}
	return userID, nil
}

func (s *sqliteStore) UserByGithubID(githubID string) (*User, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	user := &User{}
	err := s.db.QueryRow(`
        SELECT id, github_id, email, name, picture
        FROM user
        WHERE github_id = ?
    `, githubID).Scan(&user.ID, &user.GithubID, &user.Email, &user.Name, &user.Picture)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}

	return user, nil
}

func (s *sqliteStore) DeleteUser(userID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	result, err := s.db.Exec("DELETE FROM user WHERE id = ?", userID)
	if err != nil {
		return fmt.Errorf("error deleting user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrUserNotFound
	}

	return nil
}

func (s *sqliteStore) CreateSession(session *Session) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRow("SELECT EXISTS(SELECT 1 FROM user WHERE id = ?)", session.UserID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("error checking user existence: %w", err)
	}
	if !exists {
		return ErrUserNotFound
	}

	query := "INSERT INTO session (id, user_id, expires_at, ip_address, user_agent) VALUES (?, ?, ?, ?, ?)"
	_, err = tx.Exec(query, session.ID, session.UserID, session.ExpiresAt, session.IPAddress, session.UserAgent)
	if err != nil {
		return fmt.Errorf("error creating session: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}

func (s *sqliteStore) DeleteSessionByUserID(userID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, err := s.db.Exec("DELETE FROM session WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("error deleting session by userID: %w", err)
	}

	return nil
}

func (s *sqliteStore) DeleteSessionBySessionID(sessionID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, err := s.db.Exec("DELETE FROM session WHERE id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("error deleting session by sessionID: %w", err)
	}
	return nil
}

func (s *sqliteStore) SessionAndUserBySessionID(sessionID string) (*Session, *User, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	session := &Session{}
	user := &User{}

	query := `
        SELECT session.id, session.user_id, session.expires_at, session.ip_address, session.user_agent,
               user.id, user.github_id, user.email, user.name, user.picture
        FROM session
        INNER JOIN user ON session.user_id = user.id
        WHERE session.id = ?
    `
	err := s.db.QueryRow(query, sessionID).Scan(
		&session.ID,
		&session.UserID,
		&session.ExpiresAt,
		&session.IPAddress,
		&session.UserAgent,
		&user.ID,
		&user.GithubID,
		&user.Email,
		&user.Name,
		&user.Picture,
	)

	if err == sql.ErrNoRows {
		return nil, nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("error getting session and user: %w", err)
	}

	return session, user, nil
}

func (s *sqliteStore) RefreshSession(sessionID string, newExpiresAt int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	query := "UPDATE session SET expires_at = ? WHERE id = ?"
	_, err := s.db.Exec(query, newExpiresAt, sessionID)
	if err != nil {
		return fmt.Errorf("error updating session: %w", err)
	}
	return nil
}

func (s *sqliteStore) CreatePost(name string, userID int64) (*Post, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	createdAt := time.Now()
	query := "INSERT INTO post (name, created_by_id, created_at) VALUES (?, ?, ?)"
	result, err := s.db.Exec(query, name, userID, createdAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("error creating post: %w", err)
	}

	postID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("error getting last insert id: %w", err)
	}

	post := &Post{
		ID:          postID,
		Name:        name,
		CreatedByID: userID,
		CreatedAt:   time.Unix(createdAt.Unix(), 0),
	}
	return post, nil
}

// LatestPostByUserID returns (nil, nil) when the user has no posts.
// Same-second creates tie on created_at; id breaks the tie in favor of the
// later insert.
func (s *sqliteStore) LatestPostByUserID(userID int64) (*Post, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	post := &Post{}
	var createdAt int64
	err := s.db.QueryRow(`
        SELECT id, name, created_by_id, created_at
        FROM post
        WHERE created_by_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT 1
    `, userID).Scan(&post.ID, &post.Name, &post.CreatedByID, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting latest post: %w", err)
	}

	post.CreatedAt = time.Unix(createdAt, 0)
	return post, nil
}
