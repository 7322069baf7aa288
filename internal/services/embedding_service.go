package services

import (
	"context"
	"crypto/sha256"
	"errors"
	"math"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-anon-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// EmbeddingDims is the width of stored post vectors.
const EmbeddingDims = 1536

// EmbeddingService attaches placeholder vectors to posts. The vector is a
// deterministic function of the text's SHA-256 and carries no semantics.
type EmbeddingService struct {
	DB *gorm.DB
}

// Embed stores the vector for text on postID. Blank text falls back to the
// post's clean text.
func (s *EmbeddingService) Embed(ctx context.Context, postID, text string) error {
	tr := otel.Tracer("services/EmbeddingService")
	ctx, span := tr.Start(ctx, "Embed", trace.WithAttributes(attribute.String("post.id", postID)))
	defer span.End()

	p, err := repo.GetPost(ctx, s.DB, postID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrPostNotFound
	}
	if err != nil {
		return err
	}

	if strings.TrimSpace(text) == "" {
		text = p.TextClean
	}
	err = repo.SetEmbedding(ctx, s.DB, postID, PlaceholderVector(text))
	if errors.Is(err, repo.ErrNotFound) {
		return ErrPostNotFound
	}
	return err
}

// PlaceholderVector maps text to EmbeddingDims values in [-1, 1], each the
// corresponding SHA-256 byte (cycled) scaled and rounded to six decimals.
func PlaceholderVector(text string) []float64 {
	sum := sha256.Sum256([]byte(text))
	out := make([]float64, EmbeddingDims)
	for i := range out {
		v := float64(sum[i%len(sum)])/255*2 - 1
		out[i] = math.Round(v*1e6) / 1e6
	}
	return out
}
