package model

import (
	"encoding/json"
	"time"
)

// MenuItem is one entry of the menu snapshot. Replace-on-refresh: the whole
// collection is cleared and rewritten on every successful server fetch.
type MenuItem struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Category  string  `json:"category,omitempty"`
	Type      string  `json:"type"`
	Price     float64 `json:"price"`
	Available bool    `json:"available"`
}

// Table is one entry of the dining table snapshot.
type Table struct {
	ID       string `json:"id"`
	Number   int    `json:"number"`
	Capacity int    `json:"capacity"`
	Status   string `json:"status"`
}

// Staff is one entry of the users/waiters snapshot.
type Staff struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	FullName    string `json:"full_name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Role        string `json:"role"`
}

// Report is a cached dashboard/report snapshot. The payload is kept opaque:
// the terminal only redisplays what the server computed.
type Report struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Date      string          `json:"date"`
	Payload   json.RawMessage `json:"payload"`
	FetchedAt time.Time       `json:"fetched_at"`
}
