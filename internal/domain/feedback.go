package domain

import "time"

// Feedback is one rating per job, upserted on repeat submissions.
type Feedback struct {
	ID        string
	JobID     string
	Rating    int
	Comment   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidRating reports whether a rating falls in the accepted 1..5 range.
func ValidRating(rating int) bool {
	return rating >= 1 && rating <= 5
}
