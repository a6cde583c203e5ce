package models

import "time"

// Record is a row of a virtual table owned by the builder.
type Record struct {
	ID        string         `json:"id"`
	TableID   string         `json:"table_id"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
