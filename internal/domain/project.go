package domain

import "time"

// Project is the persisted live collection the editor works on.
type Project struct {
	Items     []*MediaItem  `json:"items"`
	Tracks    []*MusicTrack `json:"tracks"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}
