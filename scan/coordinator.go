package scan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hsilab/pushbroom/camera"
	"github.com/hsilab/pushbroom/motion"
)

// DefaultBuffer is the number of frames held between capture and the sink
const DefaultBuffer = 64

// Coordinator runs scans.  Sink and Builder may each be nil; the other
// collaborators are required.  The exported fields may be changed between
// scans but not during one.
type Coordinator struct {
	Camera  camera.FrameSource
	Stage   motion.Stepper
	Sink    Sink
	Builder Appender

	// Buffer is the capacity of the frame queue.  Values below 1 use
	// DefaultBuffer.  A full queue blocks capture until the sink catches up.
	Buffer int

	// Progress, if not nil, is called from the capture loop after each frame
	// is buffered
	Progress func(step, total int)

	mu   sync.Mutex
	busy bool
}

// NewCoordinator returns a coordinator with the default buffer size
func NewCoordinator(cam camera.FrameSource, stage motion.Stepper, sink Sink, builder Appender) *Coordinator {
	return &Coordinator{
		Camera:  cam,
		Stage:   stage,
		Sink:    sink,
		Builder: builder,
		Buffer:  DefaultBuffer}
}

// Busy returns true while a scan is running
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

type queued struct {
	frame camera.Frame
	index int
}

// Run performs one scan.  For each step it captures a frame, queues it, and
// advances the stage.  The first capture or stage failure ends the scan with
// a *StepError; frames already queued are still written.  Sink failures are
// logged and counted in Result.Dropped.  A Builder failure ends the scan.
//
// Run does not return until the consumer has drained the queue.  The Result
// is valid even when err is not nil, and err is also stored in Result.Err.
func (c *Coordinator) Run(ctx context.Context, s Settings) (Result, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return Result{Settings: s, Requested: s.Steps, Destination: s.Destination, Err: ErrBusy}, ErrBusy
	}
	c.busy = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	res := Result{
		ID:          uuid.New(),
		Settings:    s,
		Requested:   s.Steps,
		Destination: s.Destination,
		Started:     time.Now()}
	err := c.run(ctx, s, &res)
	res.Err = err
	res.Finished = time.Now()
	return res, err
}

func (c *Coordinator) run(ctx context.Context, s Settings, res *Result) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if c.Camera == nil || c.Stage == nil {
		return fmt.Errorf("%w: a camera and a stage are required", ErrBadSettings)
	}
	if p, ok := c.Sink.(Preparer); ok {
		if err := p.Prepare(s.Destination); err != nil {
			return fmt.Errorf("%w: preparing %s: %w", ErrPersistence, s.Destination, err)
		}
	}
	if err := c.Camera.Configure(s.Exposure, s.Gain); err != nil {
		return &StepError{Step: 0, Settings: s, Op: "configure", Err: err}
	}
	if err := c.Stage.Initialize(s.Direction, s.Mode); err != nil {
		return &StepError{Step: 0, Settings: s, Op: "initialize", Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	size := c.Buffer
	if size < 1 {
		size = DefaultBuffer
	}
	queue := make(chan queued, size)
	var (
		wg       sync.WaitGroup
		buildErr error
	)
	consume := func() {
		defer wg.Done()
		for q := range queue {
			if c.Sink != nil {
				if err := c.Sink.Write(q.frame, q.index); err != nil {
					res.Dropped++
					log.Printf("scan %s: dropped frame %d: %v", res.ID, q.index, fmt.Errorf("%w: %w", ErrPersistence, err))
				} else {
					res.Persisted++
				}
			}
			if c.Builder != nil && buildErr == nil {
				if err := c.Builder.Append(q.frame, q.index); err != nil {
					buildErr = fmt.Errorf("cube assembly at step %d: %w", q.index, err)
					cancel()
				}
			}
		}
	}

	var loopErr error
	started := false
loop:
	for i := 0; i < s.Steps; i++ {
		if err := ctx.Err(); err != nil {
			loopErr = err
			break
		}
		f, err := c.Camera.Capture()
		if err == nil {
			err = f.Check()
		}
		if err != nil {
			loopErr = &StepError{Step: i, Settings: s, Op: "capture", Err: err}
			break
		}
		select {
		case queue <- queued{frame: f, index: i}:
		case <-ctx.Done():
			loopErr = ctx.Err()
			break loop
		}
		res.Completed++
		if !started {
			started = true
			wg.Add(1)
			go consume()
		}
		if c.Progress != nil {
			c.Progress(i+1, s.Steps)
		}
		if err := c.Stage.Step(); err != nil {
			loopErr = &StepError{Step: i, Settings: s, Op: "step", Err: err}
			break
		}
	}
	close(queue)
	wg.Wait()

	if buildErr != nil {
		return buildErr
	}
	if errors.Is(loopErr, context.Canceled) || errors.Is(loopErr, context.DeadlineExceeded) {
		return fmt.Errorf("scan cancelled after %d of %d steps: %w", res.Completed, s.Steps, loopErr)
	}
	return loopErr
}
