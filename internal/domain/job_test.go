package domain

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from JobStatus
		to   JobStatus
		want bool
	}{
		{name: "pending to generating", from: JobStatusPending, to: JobStatusGenerating, want: true},
		{name: "generating to images_ready", from: JobStatusGenerating, to: JobStatusImagesReady, want: true},
		{name: "images_ready to processing", from: JobStatusImagesReady, to: JobStatusProcessing, want: true},
		{name: "images_ready to refining", from: JobStatusImagesReady, to: JobStatusRefining, want: true},
		{name: "refining back to images_ready", from: JobStatusRefining, to: JobStatusImagesReady, want: true},
		{name: "processing to completed", from: JobStatusProcessing, to: JobStatusCompleted, want: true},
		{name: "processing to failed", from: JobStatusProcessing, to: JobStatusFailed, want: true},
		{name: "no backward to pending", from: JobStatusImagesReady, to: JobStatusPending, want: false},
		{name: "no skip to completed", from: JobStatusPending, to: JobStatusCompleted, want: false},
		{name: "any active to error", from: JobStatusGenerating, to: JobStatusError, want: true},
		{name: "any active to cancelled", from: JobStatusProcessing, to: JobStatusCancelled, want: true},
		{name: "completed is terminal", from: JobStatusCompleted, to: JobStatusError, want: false},
		{name: "cancelled is terminal", from: JobStatusCancelled, to: JobStatusGenerating, want: false},
		{name: "error is terminal", from: JobStatusError, to: JobStatusPending, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func newJobWithVariations() *Job {
	return &Job{
		ID:     "j1",
		Status: JobStatusImagesReady,
		Variations: []ImageVariation{
			{ID: 1, URL: "https://img/1.png", Selected: true},
			{ID: 2, URL: "https://img/2.png"},
			{ID: 3, URL: "https://img/3.png"},
			{ID: 4, URL: "https://img/4.png"},
		},
	}
}

func TestSelectVariationExclusive(t *testing.T) {
	job := newJobWithVariations()
	if !job.SelectVariation(2) {
		t.Fatal("SelectVariation(2) = false, want true")
	}
	selectedCount := 0
	for _, v := range job.Variations {
		if v.Selected {
			selectedCount++
			if v.ID != 2 {
				t.Fatalf("selected id = %d, want 2", v.ID)
			}
		}
	}
	if selectedCount != 1 {
		t.Fatalf("selected count = %d, want 1", selectedCount)
	}
	if job.ImageURL != "https://img/2.png" {
		t.Fatalf("image url = %s, want variation 2's url", job.ImageURL)
	}
}

func TestSelectVariationIdempotent(t *testing.T) {
	job := newJobWithVariations()
	job.SelectVariation(3)
	first := *job.SelectedVariation()
	job.SelectVariation(3)
	second := *job.SelectedVariation()
	if first != second {
		t.Fatalf("repeat selection changed state: %+v vs %+v", first, second)
	}
	if job.ImageURL != "https://img/3.png" {
		t.Fatalf("image url = %s, want variation 3's url", job.ImageURL)
	}
}

func TestSelectVariationUnknownID(t *testing.T) {
	job := newJobWithVariations()
	if job.SelectVariation(99) {
		t.Fatal("SelectVariation(99) = true, want false")
	}
	if got := job.SelectedVariation(); got == nil || got.ID != 1 {
		t.Fatalf("selection changed after unknown id: %+v", got)
	}
}

func TestValidRating(t *testing.T) {
	for rating, want := range map[int]bool{0: false, 1: true, 3: true, 5: true, 6: false, -1: false} {
		if got := ValidRating(rating); got != want {
			t.Fatalf("ValidRating(%d) = %v, want %v", rating, got, want)
		}
	}
}
