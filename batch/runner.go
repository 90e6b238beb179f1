// Package batch drives repeated per-chunk regression fits over a lazy
// volume source and dispatches extracted statistics to output sinks.
// The central resource contract: each chunk's fit result is dropped
// before the next chunk is fit, so peak memory stays bounded by one
// chunk regardless of volume size.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"voxelreg/domain/core"
	"voxelreg/domain/volume"
	"voxelreg/regression"
)

// Fitter is the model contract the runner drives. All models in the
// regression package satisfy it.
type Fitter interface {
	Fit(y mat.Matrix) (*regression.FitResult, error)
}

// Frame is one reshaped output block handed to a sink: the extracted
// values for every spatial location of a chunk.
type Frame struct {
	// Values is nout x voxels, row-major: Values[o*V+v] is output
	// component o at location v.
	Values []float64
	// Shape is the chunk's spatial shape.
	Shape []int
	// NOut is the number of components per location.
	NOut int
	// ChunkIndex is the chunk's position in the source sequence; sinks
	// that care about order should write by index, not append order.
	ChunkIndex int
}

// Output is the sink contract: extract a per-voxel statistic from a
// fit result, then consume the reshaped frame. Extract must return
// nout*voxels values.
type Output interface {
	NOut() int
	Extract(res *regression.FitResult) ([]float64, error)
	Consume(f *Frame) error
}

// Report summarizes one batch run.
type Report struct {
	RunID     core.RunID     `json:"run_id"`
	Chunks    int            `json:"chunks"`
	Voxels    int            `json:"voxels"`
	StartedAt core.Timestamp `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
}

// Runner fits a model to every chunk of a source and feeds the
// registered outputs. It is single-use, like the source it wraps.
type Runner struct {
	source  volume.Source
	fitter  Fitter
	outputs []Output
}

// NewRunner builds a runner over source using fitter.
func NewRunner(source volume.Source, fitter Fitter, outputs ...Output) *Runner {
	return &Runner{source: source, fitter: fitter, outputs: outputs}
}

// AddOutput registers another sink. Must be called before Run.
func (r *Runner) AddOutput(out Output) {
	r.outputs = append(r.outputs, out)
}

// Run drains the source strictly sequentially: fit chunk i, hand the
// result to every output, drop it, then move to chunk i+1. The first
// failing chunk aborts the batch with an error naming the chunk.
// Cancellation is honored between chunks.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: core.RunID(core.NewID()), StartedAt: core.Now()}
	start := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		chunk, err := r.source.Next()
		if err != nil {
			if errors.Is(err, core.ErrSourceExhausted) {
				break
			}
			return report, err
		}
		if err := r.fitChunk(chunk); err != nil {
			log.Printf("batch run %s aborted at chunk %d: %v", report.RunID, chunk.Index, err)
			return report, core.NewChunkError(chunk.Index, err)
		}
		report.Chunks++
		report.Voxels += chunk.Voxels()
	}

	report.Duration = time.Since(start)
	return report, nil
}

// fitChunk fits one chunk and feeds every output. The fit result goes
// out of scope on return; nothing here may retain it.
func (r *Runner) fitChunk(chunk *volume.Chunk) error {
	res, err := r.fitter.Fit(chunk.Data)
	if err != nil {
		return err
	}
	for _, out := range r.outputs {
		frame, err := extractFrame(out, res, chunk)
		if err != nil {
			return err
		}
		if err := out.Consume(frame); err != nil {
			return err
		}
	}
	return nil
}

func extractFrame(out Output, res *regression.FitResult, chunk *volume.Chunk) (*Frame, error) {
	values, err := out.Extract(res)
	if err != nil {
		return nil, err
	}
	nout := out.NOut()
	if nout < 1 {
		nout = 1
	}
	want := nout * chunk.Voxels()
	if len(values) != want {
		return nil, core.NewShapeMismatchError("extracted values", len(values), want)
	}
	return &Frame{
		Values:     values,
		Shape:      chunk.Shape,
		NOut:       nout,
		ChunkIndex: chunk.Index,
	}, nil
}

// RunParallel fans chunk fits out over the given number of workers.
// Chunk fits are independent; frames carry the chunk index so
// order-sensitive sinks can place results by position. Consume calls
// are serialized on a single goroutine, so sinks need no locking.
// Requires a fitter that is safe for concurrent Fit calls, which the
// regression models are as long as their configuration is not mutated
// mid-run.
func (r *Runner) RunParallel(ctx context.Context, workers int) (*Report, error) {
	if workers < 1 {
		workers = 1
	}
	report := &Report{RunID: core.RunID(core.NewID()), StartedAt: core.Now()}
	start := time.Now()

	chunks := make(chan *volume.Chunk)
	frames := make(chan []*Frame)

	g, gctx := errgroup.WithContext(ctx)

	// Producer: the source is non-restartable and not safe for
	// concurrent Next, so a single goroutine drains it.
	g.Go(func() error {
		defer close(chunks)
		for {
			chunk, err := r.source.Next()
			if err != nil {
				if errors.Is(err, core.ErrSourceExhausted) {
					return nil
				}
				return err
			}
			select {
			case chunks <- chunk:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	// Workers: fit and extract; the fit result dies with each loop
	// iteration, same contract as the sequential path.
	wg, wgctx := errgroup.WithContext(gctx)
	for w := 0; w < workers; w++ {
		wg.Go(func() error {
			for chunk := range chunks {
				res, err := r.fitter.Fit(chunk.Data)
				if err != nil {
					return core.NewChunkError(chunk.Index, err)
				}
				chunkFrames := make([]*Frame, len(r.outputs))
				for i, out := range r.outputs {
					frame, err := extractFrame(out, res, chunk)
					if err != nil {
						return core.NewChunkError(chunk.Index, err)
					}
					chunkFrames[i] = frame
				}
				select {
				case frames <- chunkFrames:
				case <-wgctx.Done():
					return wgctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(frames)
		return wg.Wait()
	})

	// Consumer: serialized sink feeding.
	g.Go(func() error {
		for chunkFrames := range frames {
			for i, frame := range chunkFrames {
				if err := r.outputs[i].Consume(frame); err != nil {
					return core.NewChunkError(frame.ChunkIndex, err)
				}
			}
			report.Chunks++
			if len(chunkFrames) > 0 {
				report.Voxels += volume.NumVoxels(chunkFrames[0].Shape)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return report, err
	}
	report.Duration = time.Since(start)
	return report, nil
}

// BetaOutput is a ready-made sink accumulating fitted coefficients in
// memory, one row per coefficient, voxels ordered by chunk index.
type BetaOutput struct {
	P      int
	frames map[int]*Frame
}

// NewBetaOutput accumulates p coefficients per voxel.
func NewBetaOutput(p int) *BetaOutput {
	return &BetaOutput{P: p, frames: make(map[int]*Frame)}
}

func (o *BetaOutput) NOut() int { return o.P }

func (o *BetaOutput) Extract(res *regression.FitResult) ([]float64, error) {
	p, k := res.Beta.Dims()
	if p != o.P {
		return nil, core.NewShapeMismatchError("coefficient count", p, o.P)
	}
	out := make([]float64, p*k)
	for i := 0; i < p; i++ {
		for j := 0; j < k; j++ {
			out[i*k+j] = res.Beta.At(i, j)
		}
	}
	return out, nil
}

func (o *BetaOutput) Consume(f *Frame) error {
	o.frames[f.ChunkIndex] = f
	return nil
}

// Frame returns the accumulated frame for a chunk index, if present.
func (o *BetaOutput) Frame(index int) (*Frame, bool) {
	f, ok := o.frames[index]
	return f, ok
}

// TContrastOutput is a sink computing a T contrast per voxel.
type TContrastOutput struct {
	Row    []float64
	frames map[int]*Frame
}

// NewTContrastOutput builds a sink for the given contrast row.
func NewTContrastOutput(row []float64) *TContrastOutput {
	return &TContrastOutput{Row: append([]float64(nil), row...), frames: make(map[int]*Frame)}
}

func (o *TContrastOutput) NOut() int { return 1 }

func (o *TContrastOutput) Extract(res *regression.FitResult) ([]float64, error) {
	cr, err := res.TContrast(o.Row)
	if err != nil {
		return nil, err
	}
	return cr.T, nil
}

func (o *TContrastOutput) Consume(f *Frame) error {
	o.frames[f.ChunkIndex] = f
	return nil
}

// Frame returns the accumulated frame for a chunk index, if present.
func (o *TContrastOutput) Frame(index int) (*Frame, bool) {
	f, ok := o.frames[index]
	return f, ok
}

var _ fmt.Stringer = Report{}

// String renders a one-line run summary.
func (r Report) String() string {
	return fmt.Sprintf("run %s: %d chunks, %d voxels in %s", r.RunID, r.Chunks, r.Voxels, r.Duration)
}
