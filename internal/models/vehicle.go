package models

import "time"

// Vehicle is referenced by reservations. The reservation core never mutates
// vehicles beyond activation; it groups reservations by vehicle id.
type Vehicle struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Plate     string    `json:"plate"`
	Seats     int       `json:"seats"`
	SortOrder int64     `json:"sort_order"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FormSession holds the server-side state of a multi-step booking form.
type FormSession struct {
	UserID    int64             `json:"user_id"`
	Step      int               `json:"step"`
	Fields    map[string]string `json:"fields"`
	UpdatedAt time.Time         `json:"updated_at"`
}
