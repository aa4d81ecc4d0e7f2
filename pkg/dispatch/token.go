package dispatch

import "time"

// DeviceToken is a registry record. (Token, Platform) is its identity.
type DeviceToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId,omitempty"`
	Platform  Platform  `json:"platform"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TokenFilter narrows List. Empty fields match everything.
type TokenFilter struct {
	UserID   string
	Platform Platform
}

func (f TokenFilter) Matches(t DeviceToken) bool {
	if f.UserID != "" && t.UserID != f.UserID {
		return false
	}
	if f.Platform != "" && t.Platform != f.Platform {
		return false
	}
	return true
}

// TokenStats summarises registry contents. ByUser counts distinct users
// holding at least one token.
type TokenStats struct {
	Total      int              `json:"total"`
	ByPlatform map[Platform]int `json:"byPlatform"`
	ByUser     int              `json:"byUser"`
}
