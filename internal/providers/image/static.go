package image

import (
	"context"
	"crypto/sha256"
	"fmt"
)

// StaticGenerator produces deterministic placeholder assets. It is intended
// for development and test environments where no provider key is configured.
type StaticGenerator struct{}

func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{}
}

func (s *StaticGenerator) Generate(ctx context.Context, req GenerateRequest) (Asset, error) {
	if err := ctx.Err(); err != nil {
		return Asset{}, err
	}
	sum := sha256.Sum256([]byte(req.Prompt))
	return Asset{
		URL:    fmt.Sprintf("https://cdn.example.com/static/%x.png", sum[:8]),
		Format: "image/png",
	}, nil
}

func (s *StaticGenerator) Edit(ctx context.Context, imageURL, instructions string) (Asset, error) {
	if err := ctx.Err(); err != nil {
		return Asset{}, err
	}
	sum := sha256.Sum256([]byte(imageURL + "|" + instructions))
	return Asset{
		URL:    fmt.Sprintf("https://cdn.example.com/static/%x-edit.png", sum[:8]),
		Format: "image/png",
	}, nil
}

var _ Generator = (*StaticGenerator)(nil)
