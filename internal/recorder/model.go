package recorder

import "time"

// Submission mirrors the submissions table owned by the web tier. The
// worker only ever updates existing rows; the canonical schema lives in
// migrations/.
type Submission struct {
	ID            string `gorm:"primaryKey"`
	Status        string
	ExecutionTime *int64
	MemoryUsage   *int64
	ErrorMessage  *string
	StartedAt     *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
