package runner

import (
	"context"
	"fmt"
	"strings"

	"emepath/pkg/agents"
)

// Placeholder fragments that mark corrupted model output. Lines containing
// any of these are dropped before emission.
var corruptMarkers = []string{"�", "<|", "|>", "[UNK]"}

// runDistill chunks the agent's input by an approximate token budget,
// distills each chunk (retrying once when the model returns nothing
// usable), deduplicates identical lines across chunks, and strips corrupted
// placeholder output.
func (e *Executor) runDistill(ctx context.Context, a *agents.Agent) (string, error) {
	if e.distiller == nil {
		return "", fmt.Errorf("distill: no distiller configured")
	}
	if strings.TrimSpace(a.Input) == "" {
		return "", fmt.Errorf("distill: empty input")
	}

	chunks := chunkByTokens(a.Input, e.cfg.ChunkTokens, e.cfg.ChunkOverlap)

	seen := make(map[string]bool)
	var kept []string
	for i, chunk := range chunks {
		lines, err := e.distillChunk(ctx, a.Goal, chunk)
		if err != nil {
			return "", fmt.Errorf("distill chunk %d/%d: %w", i+1, len(chunks), err)
		}
		for _, line := range lines {
			line = strings.TrimSpace(line)
			if line == "" || corrupted(line) || seen[line] {
				continue
			}
			seen[line] = true
			kept = append(kept, line)
		}
		e.registry.CheckIn(a.ID, agents.StatusRunning, agents.CheckInOpts{
			EOTsDelta: 1,
			Note:      fmt.Sprintf("chunk %d/%d", i+1, len(chunks)),
		})
	}

	if len(kept) == 0 {
		return "", fmt.Errorf("distill: no usable output across %d chunks", len(chunks))
	}
	return fmt.Sprintf("distilled %d lines from %d chunks", len(kept), len(chunks)), nil
}

// distillChunk calls the model once, and once more if the first attempt
// produced nothing usable.
func (e *Executor) distillChunk(ctx context.Context, goal, chunk string) ([]string, error) {
	lines, err := e.distiller.Distill(ctx, goal, chunk)
	if err == nil && usable(lines) {
		return lines, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	// One retry per chunk.
	lines, retryErr := e.distiller.Distill(ctx, goal, chunk)
	if retryErr != nil {
		if err != nil {
			return nil, err
		}
		return nil, retryErr
	}
	return lines, nil
}

// usable reports whether the model produced at least one non-blank line.
func usable(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return true
		}
	}
	return false
}

// corrupted reports whether a line contains a known placeholder marker.
func corrupted(line string) bool {
	for _, m := range corruptMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// chunkByTokens splits text into chunks of roughly budget tokens with the
// given overlap. Tokens are approximated by whitespace-separated fields,
// which is close enough for sizing requests to a local model.
func chunkByTokens(text string, budget, overlap int) []string {
	words := strings.Fields(text)
	if len(words) <= budget {
		return []string{text}
	}
	if overlap >= budget {
		overlap = budget / 2
	}

	var chunks []string
	step := budget - overlap
	for start := 0; start < len(words); start += step {
		end := start + budget
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
