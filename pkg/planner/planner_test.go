package planner

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/deepresearch/internal/logger"
	"github.com/xhad/deepresearch/internal/models"
	"github.com/xhad/deepresearch/internal/types"
)

// fakeModel answers structured requests with a canned JSON document.
type fakeModel struct {
	response string
	err      error

	calls      int
	lastPrompt string
	lastSchema types.Schema
}

func (f *fakeModel) GenerateStructured(ctx context.Context, system, prompt string, schema types.Schema, out interface{}) error {
	f.calls++
	f.lastPrompt = prompt
	f.lastSchema = schema
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.response), out)
}

func TestExpandDiffusionVsGANs(t *testing.T) {
	lm := &fakeModel{response: `{"queries": [
		"diffusion models versus generative adversarial networks image generation quality comparison",
		"benchmarks comparing diffusion models and GANs on FID for image synthesis",
		"training cost and sampling speed of diffusion models compared with GANs for image generation",
		"how diffusion models generate images denoising process",
		"generative adversarial networks GAN image generation strengths and failure modes"
	]}`}
	clock := func() time.Time { return time.Date(2025, 3, 14, 22, 0, 0, 0, time.FixedZone("x", -5*3600)) }

	p := New(lm, logger.NewTestLogger(t), WithClock(clock))
	plan, err := p.Expand(context.Background(), "Compare diffusion models and GANs for image generation")
	require.NoError(t, err)

	require.Len(t, plan.Queries, models.QueryCount)
	assert.Len(t, plan.Related(), 3)
	require.Len(t, plan.Decomposition(), 2)

	var diffusion, gans bool
	for _, q := range plan.Decomposition() {
		lower := strings.ToLower(q)
		diffusion = diffusion || strings.Contains(lower, "diffusion")
		gans = gans || strings.Contains(lower, "gan")
	}
	assert.True(t, diffusion, "a decomposition query must cover diffusion models")
	assert.True(t, gans, "a decomposition query must cover GANs")

	assert.Equal(t, 1, lm.calls)
	assert.Equal(t, "QueryPlan", lm.lastSchema.Name)
	assert.Contains(t, lm.lastPrompt, "Compare diffusion models and GANs for image generation")
	assert.Contains(t, lm.lastPrompt, "2025-03-15", "date context is rendered in UTC")
}

func TestExpandFailures(t *testing.T) {
	tests := []struct {
		name     string
		question string
		lm       *fakeModel
		wantErr  error
		wantCall bool
	}{
		{
			name:     "too few queries",
			question: "What is RLHF?",
			lm:       &fakeModel{response: `{"queries": ["a", "b", "c", "d"]}`},
			wantCall: true,
		},
		{
			name:     "too many queries",
			question: "What is RLHF?",
			lm:       &fakeModel{response: `{"queries": ["a", "b", "c", "d", "e", "f"]}`},
			wantCall: true,
		},
		{
			name:     "blank query",
			question: "What is RLHF?",
			lm:       &fakeModel{response: `{"queries": ["a", "b", "  ", "d", "e"]}`},
			wantCall: true,
		},
		{
			name:     "no result",
			question: "What is RLHF?",
			lm:       &fakeModel{err: errors.New("response does not conform to schema")},
			wantCall: true,
		},
		{
			name:     "empty question",
			question: "   ",
			lm:       &fakeModel{},
			wantErr:  ErrEmptyQuestion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.lm, logger.NewNoOpLogger())
			plan, err := p.Expand(context.Background(), tt.question)
			require.Error(t, err)
			assert.Empty(t, plan.Queries)

			var stageErr *models.StageError
			require.ErrorAs(t, err, &stageErr)
			assert.Equal(t, models.ExpansionFailed, stageErr.Kind)
			assert.Equal(t, models.StateExpanding, stageErr.Stage)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.wantCall, tt.lm.calls > 0)
		})
	}
}

func TestExpandTrimsQueries(t *testing.T) {
	lm := &fakeModel{response: `{"queries": [" a ", "b", "c", "d", "e\n"]}`}
	plan, err := New(lm, logger.NewNoOpLogger()).Expand(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, plan.Queries)
}
