package objectsegmentation

import (
	"context"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// A FrameSource hands out captured frames, one at a time.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

// Source pulls frames from src at a fixed rate, runs them through the
// pipeline, and caches the most recent Result for consumers that sample
// slower than the camera produces.
type Source struct {
	pipeline *Pipeline
	src      FrameSource
	logger   golog.Logger

	mu    sync.RWMutex
	cache *Result

	cancel                  context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
}

// NewSource processes one frame up front so the cache is never empty, then
// starts the pull loop at fps frames per second.
func NewSource(ctx context.Context, src FrameSource, pipeline *Pipeline, fps float64, logger golog.Logger) (*Source, error) {
	if src == nil {
		return nil, errors.New("source needs a frame source to pull from")
	}
	if pipeline == nil {
		return nil, errors.New("source needs a pipeline to feed")
	}
	if fps <= 0 {
		return nil, errors.Errorf("fps must be positive, got %f", fps)
	}
	frame, err := src.Next(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not pull the first frame")
	}
	s := &Source{
		pipeline: pipeline,
		src:      src,
		logger:   logger,
		cache:    pipeline.ProcessFrame(ctx, frame),
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	tickInterval := time.Duration(float64(time.Second) / fps)
	s.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
			}
			frame, err := s.src.Next(loopCtx)
			if err != nil {
				if loopCtx.Err() != nil {
					return
				}
				s.logger.Debugw("frame pull failed", "error", err)
				continue
			}
			res := s.pipeline.ProcessFrame(loopCtx, frame)
			if errors.Is(res.Err, ErrFrameSuperseded) {
				continue
			}
			s.mu.Lock()
			s.cache = res
			s.mu.Unlock()
		}
	}, s.activeBackgroundWorkers.Done)
	return s, nil
}

// Latest returns the most recent pipeline Result.
func (s *Source) Latest() *Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache
}

// Close stops the pull loop. The pipeline is left running; close it
// separately.
func (s *Source) Close() {
	s.cancel()
	s.activeBackgroundWorkers.Wait()
}
