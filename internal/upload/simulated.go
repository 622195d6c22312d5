package upload

import (
	"context"
	"math/rand"
	"time"

	"github.com/docserver/docserver/internal/job"
)

// Simulated pretends to upload: it sleeps for a random time up to
// MaxDuration and fails with probability FailureChance.
type Simulated struct {
	FailureChance float64
	MaxDuration   time.Duration

	// random returns values in [0, 1). Defaults to math/rand/v2.
	random func() float64
}

func NewSimulated(failureChance float64, maxDuration time.Duration) *Simulated {
	return &Simulated{
		FailureChance: failureChance,
		MaxDuration:   maxDuration,
		random:        rand.Float64,
	}
}

func (s *Simulated) Upload(ctx context.Context, req job.Request) (job.Result, error) {
	success := s.random() >= s.FailureChance
	wait := time.Duration(s.random() * float64(s.MaxDuration))

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return job.Result{}, ctx.Err()
	case <-timer.C:
	}

	if success {
		return job.Completed("Successfully uploaded %s for user %s", req.Path, req.User), nil
	}
	return job.Failed("Error when uploading %s for user %s", req.Path, req.User), nil
}
