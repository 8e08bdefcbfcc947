package image

import "context"

// GenerateRequest describes a normalized request passed to the image provider.
type GenerateRequest struct {
	Prompt     string
	Quality    string
	Background string
	// Sketch optionally references a user-drawn image guiding the generation.
	Sketch    string
	Seed      *int
	RequestID string
}

// Asset represents one generated or edited image.
type Asset struct {
	URL    string
	Data   []byte
	Format string
}

// Generator is the contract implemented by image providers.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Asset, error)
	Edit(ctx context.Context, imageURL, instructions string) (Asset, error)
}
