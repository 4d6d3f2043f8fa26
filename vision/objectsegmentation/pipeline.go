// Package objectsegmentation runs the per-frame segmentation pipeline: sensor
// frame in, colorized mask, composite, and detected labels out. One model
// instance, one frame in flight; newer frames supersede a pending one that
// has not started yet.
package objectsegmentation

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/segcam/rimage"
	"go.viam.com/segcam/services/mlmodel"
	"go.viam.com/segcam/services/vision/mlvision"
	"go.viam.com/segcam/vision/segmentation"
)

// ErrFrameSuperseded is delivered for a frame that was replaced by a newer one
// before processing started.
var ErrFrameSuperseded = errors.New("frame superseded by a newer frame before processing started")

// Frame is one captured frame: either an already-decoded raster or planar
// sensor data that the pipeline converts itself.
type Frame struct {
	// Image is the decoded raster, when the source provides one.
	Image image.Image
	// YUV is the planar sensor frame, converted when Image is nil.
	YUV *rimage.YUV420Frame
	// Width and Height size the conversion of a YUV frame.
	Width  int
	Height int
}

func (f Frame) raster() image.Image {
	if f.Image != nil {
		return f.Image
	}
	return rimage.ConvertYUV420(f.YUV, f.Width, f.Height)
}

// ModelFactory constructs the model instance for the pipeline's slot. The
// pipeline calls it from its worker so the instance never migrates between
// goroutines.
type ModelFactory func(ctx context.Context) (mlmodel.Service, error)

// Config wires one pipeline: how to build its model and how to decode masks.
type Config struct {
	Model ModelFactory
	// Decoder defaults to the built-in VOC tables when left zero.
	Decoder segmentation.DecoderConfig
	// Clock is swapped out in tests; defaults to the wall clock.
	Clock clock.Clock
}

type request struct {
	ctx      context.Context
	frame    Frame
	resultCh chan *Result
}

type reconfigureRequest struct {
	ctx   context.Context
	conf  Config
	errCh chan error
}

// Pipeline owns one model slot and the single worker that drives it.
type Pipeline struct {
	logger golog.Logger
	clock  clock.Clock
	stats  *TimingStats

	// worker-owned state; only touched on the worker goroutine after start
	model   mlmodel.Service
	info    mlvision.ModelInfo
	decoder *segmentation.Decoder

	mu      sync.Mutex
	pending *request

	wake        chan struct{}
	reconfigure chan reconfigureRequest
	closeOnce   sync.Once
	closed      chan struct{}

	activeBackgroundWorkers sync.WaitGroup
}

// NewPipeline builds the model from conf and starts the worker. Construction
// fails synchronously if the model cannot come up (for example the requested
// accelerator backend is unavailable); the caller may retry with a fallback
// configuration.
func NewPipeline(ctx context.Context, conf Config, logger golog.Logger) (*Pipeline, error) {
	p := &Pipeline{
		logger:      logger,
		clock:       conf.Clock,
		stats:       &TimingStats{},
		wake:        make(chan struct{}, 1),
		reconfigure: make(chan reconfigureRequest),
		closed:      make(chan struct{}),
	}
	if p.clock == nil {
		p.clock = clock.New()
	}
	if err := p.applyConfig(ctx, conf); err != nil {
		return nil, err
	}
	p.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(p.run, p.activeBackgroundWorkers.Done)
	return p, nil
}

// applyConfig releases the live model instance (if any) and constructs its
// replacement. Runs on the constructing caller first, then only ever on the
// worker, so no two live instances exist for the slot.
func (p *Pipeline) applyConfig(ctx context.Context, conf Config) error {
	if conf.Model == nil {
		return errors.New("pipeline config needs a model factory")
	}
	decoderConf := conf.Decoder
	if decoderConf.Colors == nil {
		decoderConf.Colors = segmentation.NewColorTable(segmentation.DefaultNumClasses)
		decoderConf.Labels = segmentation.VOCLabels
	}
	decoder, err := segmentation.NewDecoder(decoderConf, p.logger)
	if err != nil {
		return err
	}

	if p.model != nil {
		err := p.model.Close(ctx)
		p.model = nil
		if err != nil {
			return errors.Wrap(err, "could not release the previous model instance")
		}
	}
	model, err := conf.Model(ctx)
	if err != nil {
		return errors.Wrap(err, "could not construct model for pipeline slot")
	}
	md, err := model.Metadata(ctx)
	if err != nil {
		return multierr.Combine(errors.Wrap(err, "could not read model metadata"), model.Close(ctx))
	}
	info, err := mlvision.ModelInfoFromMetadata(md)
	if err != nil {
		return multierr.Combine(err, model.Close(ctx))
	}
	if info.OutputMode == mlvision.OutputScores && info.NumClasses != decoder.NumClasses() {
		return multierr.Combine(
			errors.Errorf("model emits %d classes but the decoder's tables have %d", info.NumClasses, decoder.NumClasses()),
			model.Close(ctx),
		)
	}
	p.model = model
	p.info = info
	p.decoder = decoder
	return nil
}

func (p *Pipeline) run() {
	for {
		select {
		case <-p.closed:
			return
		case req := <-p.reconfigure:
			req.errCh <- p.applyConfig(req.ctx, req.conf)
		case <-p.wake:
			for {
				p.mu.Lock()
				req := p.pending
				p.pending = nil
				p.mu.Unlock()
				if req == nil {
					break
				}
				req.resultCh <- p.process(req.ctx, req.frame)
			}
		}
	}
}

// Submit queues frame for processing and returns the channel its Result will
// be delivered on. A frame still pending when a newer one arrives is
// completed immediately with ErrFrameSuperseded; once processing starts, the
// frame runs to completion.
func (p *Pipeline) Submit(ctx context.Context, frame Frame) <-chan *Result {
	req := &request{ctx: ctx, frame: frame, resultCh: make(chan *Result, 1)}
	// checked under mu so a concurrent Close either sees this request when it
	// drains the pending slot, or is observed here
	p.mu.Lock()
	select {
	case <-p.closed:
		p.mu.Unlock()
		req.resultCh <- &Result{Err: errors.New("pipeline closed")}
		return req.resultCh
	default:
	}
	if p.pending != nil {
		p.pending.resultCh <- &Result{Err: ErrFrameSuperseded}
	}
	p.pending = req
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return req.resultCh
}

// ProcessFrame runs one frame through the pipeline and blocks for its Result.
// Per-frame failures are contained in the Result, never returned as an error.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame Frame) *Result {
	select {
	case res := <-p.Submit(ctx, frame):
		return res
	case <-ctx.Done():
		return &Result{Err: ctx.Err()}
	case <-p.closed:
		return &Result{Err: errors.New("pipeline closed")}
	}
}

func (p *Pipeline) process(ctx context.Context, frame Frame) *Result {
	ctx, span := trace.StartSpan(ctx, "objectsegmentation::Pipeline::process")
	defer span.End()

	start := p.clock.Now()
	res := &Result{}
	if p.model == nil {
		return p.failFrame(res, errors.New("no live model in the pipeline slot; reconfigure onto a working backend"), start)
	}

	_, prepSpan := trace.StartSpan(ctx, "objectsegmentation::Pipeline::preprocess")
	original := frame.raster()
	res.Original = original
	tensors, err := mlvision.PreprocessInput(original, p.info)
	prepSpan.End()
	res.Timing.Preprocess = p.clock.Since(start)
	if err != nil {
		return p.failFrame(res, err, start)
	}

	inferStart := p.clock.Now()
	_, inferSpan := trace.StartSpan(ctx, "objectsegmentation::Pipeline::infer")
	outputs, err := p.model.Infer(ctx, tensors)
	inferSpan.End()
	res.Timing.Inference = p.clock.Since(inferStart)
	if err != nil {
		return p.failFrame(res, err, start)
	}

	decodeStart := p.clock.Now()
	_, decodeSpan := trace.StartSpan(ctx, "objectsegmentation::Pipeline::decode")
	var decoded *segmentation.DecodeResult
	seg, err := mlvision.UnpackSegmentation(outputs, p.info)
	if err == nil {
		if seg.Scores != nil {
			decoded, err = p.decoder.DecodeScores(seg.Scores, seg.Width, seg.Height, original)
		} else {
			decoded, err = p.decoder.Decode(seg.ClassMap, seg.Width, seg.Height, original)
		}
	}
	decodeSpan.End()
	res.Timing.Decode = p.clock.Since(decodeStart)
	if err != nil {
		return p.failFrame(res, err, start)
	}

	res.Mask = decoded.Mask
	res.Composite = decoded.Composite
	res.DetectedItems = decoded.DetectedItems
	res.Timing.Total = p.clock.Since(start)
	p.stats.Add(res.Timing)
	return res
}

// failFrame substitutes blank output for a failed frame and logs the cause.
func (p *Pipeline) failFrame(res *Result, err error, start time.Time) *Result {
	p.logger.Errorw("frame processing failed; substituting blank result", "error", err)
	w, h := p.info.InputWidth, p.info.InputHeight
	if res.Original != nil {
		w, h = res.Original.Bounds().Dx(), res.Original.Bounds().Dy()
	}
	blank := segmentation.BlankResult(w, h)
	res.Mask = blank.Mask
	res.Composite = blank.Composite
	res.DetectedItems = blank.DetectedItems
	res.Err = err
	res.Timing.Total = p.clock.Since(start)
	return res
}

// TimingStats exposes the aggregated per-stage timings.
func (p *Pipeline) TimingStats() *TimingStats {
	return p.stats
}

// Reconfigure swaps the pipeline onto a new configuration. The live model is
// fully released on the worker before its replacement is constructed.
// Configuration errors are returned synchronously; on failure the slot is
// left empty and a further Reconfigure (for example back onto a CPU backend)
// restores service.
func (p *Pipeline) Reconfigure(ctx context.Context, conf Config) error {
	req := reconfigureRequest{ctx: ctx, conf: conf, errCh: make(chan error, 1)}
	select {
	case p.reconfigure <- req:
	case <-p.closed:
		return errors.New("pipeline closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker and releases the model.
func (p *Pipeline) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
	p.activeBackgroundWorkers.Wait()
	var err error
	if p.model != nil {
		err = p.model.Close(ctx)
		p.model = nil
	}
	p.mu.Lock()
	if p.pending != nil {
		p.pending.resultCh <- &Result{Err: errors.New("pipeline closed")}
		p.pending = nil
	}
	p.mu.Unlock()
	return err
}
