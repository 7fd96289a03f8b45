package sqlitedb

import (
	"context"
	"time"
)

const countUsers = `SELECT COUNT(*) FROM users`

func (q *Queries) CountUsers(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countUsers)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const getUserByUsername = `SELECT id, username, password_hash, created_at FROM users WHERE username = ?`

func (q *Queries) GetUserByUsername(ctx context.Context, username string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByUsername, username)
	var i User
	err := row.Scan(&i.ID, &i.Username, &i.PasswordHash, &i.CreatedAt)
	return i, err
}

const getUserByID = `SELECT id, username, password_hash, created_at FROM users WHERE id = ?`

func (q *Queries) GetUserByID(ctx context.Context, id int64) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByID, id)
	var i User
	err := row.Scan(&i.ID, &i.Username, &i.PasswordHash, &i.CreatedAt)
	return i, err
}

const insertUser = `INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`

type InsertUserParams struct {
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

func (q *Queries) InsertUser(ctx context.Context, arg InsertUserParams) error {
	_, err := q.db.ExecContext(ctx, insertUser, arg.Username, arg.PasswordHash, arg.CreatedAt)
	return err
}

const updateUserPassword = `UPDATE users SET password_hash = ? WHERE id = ?`

type UpdateUserPasswordParams struct {
	PasswordHash string
	ID           int64
}

func (q *Queries) UpdateUserPassword(ctx context.Context, arg UpdateUserPasswordParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateUserPassword, arg.PasswordHash, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
