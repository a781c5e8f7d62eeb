package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/source-vetting/internal/dedup"
)

var _ dedup.SemanticScorer = (*Client)(nil)

// maxListingChars bounds each listing sent for comparison
const maxListingChars = 2000

// stripMarkdownCodeBlock extracts the JSON object from a response that may be wrapped in prose or fences
func stripMarkdownCodeBlock(response string) string {
	response = strings.TrimSpace(response)

	startIdx := strings.Index(response, "{")
	if startIdx == -1 {
		return response
	}
	endIdx := strings.LastIndex(response, "}")
	if endIdx == -1 || endIdx < startIdx {
		return response
	}
	return response[startIdx : endIdx+1]
}

// SimilarityJudgement is Claude's verdict on a pair of listings
type SimilarityJudgement struct {
	Similarity float64 `json:"similarity"`
	Reason     string  `json:"reason"`
}

// Judge asks Claude whether two listings describe the same opportunity
func (c *Client) Judge(ctx context.Context, a, b string) (*SimilarityJudgement, error) {
	userPrompt := fmt.Sprintf(SimilarityUserPrompt, truncate(a, maxListingChars), truncate(b, maxListingChars))

	response, err := c.CompleteWithJSON(ctx, SimilaritySystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	var judgement SimilarityJudgement
	if err := json.Unmarshal([]byte(stripMarkdownCodeBlock(response)), &judgement); err != nil {
		c.log.Error().
			Err(err).
			Str("response", response).
			Msg("Failed to parse similarity response")
		return nil, fmt.Errorf("failed to parse similarity response: %w", err)
	}
	if judgement.Similarity < 0 || judgement.Similarity > 1 {
		return nil, fmt.Errorf("similarity %v out of range", judgement.Similarity)
	}
	return &judgement, nil
}

// Similarity implements the dedup semantic capability
func (c *Client) Similarity(ctx context.Context, a, b string) (float64, error) {
	j, err := c.Judge(ctx, a, b)
	if err != nil {
		return 0, err
	}
	c.log.Debug().Float64("similarity", j.Similarity).Str("reason", j.Reason).Msg("Semantic comparison")
	return j.Similarity, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
