package model

import "time"

// Office is a physical location reports are filed against.  It corresponds
// to a row in the `offices` table.  Code is a short unique identifier such
// as "HQ-AMS".
type Office struct {
	ID          uint64    // offices.id
	Name        string    // offices.name
	Code        string    // offices.code (unique)
	Address     string    // offices.address
	City        string    // offices.city
	Floor       string    // offices.floor
	Description string    // offices.description
	IsActive    bool      // offices.is_active
	CreatedAt   time.Time // offices.created_at
	UpdatedAt   time.Time // offices.updated_at
}

// Summary returns the projection embedded in report responses.
func (o *Office) Summary() OfficeSummary {
	return OfficeSummary{ID: o.ID, Name: o.Name, Code: o.Code}
}

// OfficeSummary is the populated form of an office reference.
type OfficeSummary struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}
