package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deadlineRecorder struct {
	hadDeadline bool
}

func (r *deadlineRecorder) Model() string { return "recorder" }

func (r *deadlineRecorder) Embed(ctx context.Context, _ string) ([]float64, error) {
	_, r.hadDeadline = ctx.Deadline()
	return []float64{1}, nil
}

func TestWithTimeout(t *testing.T) {
	recorder := &deadlineRecorder{}

	assert.Same(t, Vectorizer(recorder), WithTimeout(recorder, 0))

	wrapped := WithTimeout(recorder, time.Second)
	assert.Equal(t, "recorder", wrapped.Model())
	_, err := wrapped.Embed(context.Background(), "go")
	require.NoError(t, err)
	assert.True(t, recorder.hadDeadline)
}
