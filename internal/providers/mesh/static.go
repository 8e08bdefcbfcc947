package mesh

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
)

// StaticProvider completes every task after a fixed number of polls. It is
// intended for development and test environments.
type StaticProvider struct {
	mu    sync.Mutex
	polls map[string]int

	// PollsToComplete is how many GetTask calls a task takes to finish.
	PollsToComplete int
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{polls: make(map[string]int), PollsToComplete: 2}
}

func (s *StaticProvider) CreateTask(ctx context.Context, imageURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(imageURL))
	return fmt.Sprintf("task-%x", sum[:6]), nil
}

func (s *StaticProvider) GetTask(ctx context.Context, taskID string) (Task, error) {
	if err := ctx.Err(); err != nil {
		return Task{}, err
	}
	s.mu.Lock()
	s.polls[taskID]++
	polls := s.polls[taskID]
	s.mu.Unlock()
	if polls < s.PollsToComplete {
		progress := polls * 100 / s.PollsToComplete
		return Task{ID: taskID, Status: TaskStatusProcessing, Progress: progress}, nil
	}
	return Task{
		ID:       taskID,
		Status:   TaskStatusCompleted,
		Progress: 100,
		ModelURL: fmt.Sprintf("https://cdn.example.com/meshes/%s.glb", taskID),
	}, nil
}

func (s *StaticProvider) Download(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []byte("glTF"), nil
}

var _ Provider = (*StaticProvider)(nil)
