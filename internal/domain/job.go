package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"
	JobStatusGenerating  JobStatus = "generating"
	JobStatusImagesReady JobStatus = "images_ready"
	JobStatusRefining    JobStatus = "refining"
	JobStatusProcessing  JobStatus = "processing"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusFailed      JobStatus = "failed"
	JobStatusError       JobStatus = "error"
	JobStatusCancelled   JobStatus = "cancelled"
)

// MaxIterations caps refinement rounds per credit.
const MaxIterations = 4

// Job tracks one user request from prompt to finished model.
type Job struct {
	ID             string
	UserID         string
	Prompt         string
	Status         JobStatus
	ImageURL       string
	Variations     []ImageVariation
	ModelURL       string
	Iterations     int
	ErrorMessage   string
	ProviderTaskID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// ImageVariation is one candidate concept image belonging to a job.
type ImageVariation struct {
	ID       int    `json:"id"`
	URL      string `json:"url"`
	Prompt   string `json:"prompt"`
	Selected bool   `json:"selected"`
}

var transitions = map[JobStatus][]JobStatus{
	JobStatusPending:     {JobStatusGenerating},
	JobStatusGenerating:  {JobStatusImagesReady},
	JobStatusImagesReady: {JobStatusRefining, JobStatusProcessing},
	JobStatusRefining:    {JobStatusImagesReady},
	JobStatusProcessing:  {JobStatusCompleted, JobStatusFailed},
}

// Terminal reports whether a status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusError, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from one status to another follows the
// lifecycle graph. Any non-terminal status may move to error or cancelled;
// no backward transitions otherwise.
func CanTransition(from, to JobStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == JobStatusError || to == JobStatusCancelled {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SelectVariation marks exactly one variation as selected and promotes its
// URL to the job's primary image. Selecting the same variation twice is a
// no-op. Returns false if no variation carries the id.
func (j *Job) SelectVariation(id int) bool {
	found := false
	for i := range j.Variations {
		if j.Variations[i].ID == id {
			found = true
		}
	}
	if !found {
		return false
	}
	for i := range j.Variations {
		j.Variations[i].Selected = j.Variations[i].ID == id
		if j.Variations[i].Selected {
			j.ImageURL = j.Variations[i].URL
		}
	}
	return true
}

// SelectedVariation returns the currently selected variation, if any.
func (j *Job) SelectedVariation() *ImageVariation {
	for i := range j.Variations {
		if j.Variations[i].Selected {
			return &j.Variations[i]
		}
	}
	return nil
}
