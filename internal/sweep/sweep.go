// Package sweep runs periodic maintenance tasks, each on its own ticker.
package sweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Task is one periodic job. Run receives the tick time and reports how many items it removed.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context, now time.Time) (int, error)
}

// Runner owns the task goroutines.
type Runner struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	tasks   []Task
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewRunner returns an idle Runner. A nil logger discards output.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{logger: logger, now: time.Now}
}

// Add registers a task. Tasks added after Start are rejected.
func (r *Runner) Add(t Task) error {
	if t.Name == "" || t.Run == nil {
		return errors.New("sweep task requires name and run func")
	}
	if t.Interval <= 0 {
		return errors.New("sweep task interval must be > 0")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("sweep runner already started")
	}
	r.tasks = append(r.tasks, t)
	return nil
}

// Start launches one goroutine per task. The first run happens one interval after Start.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)
	for _, t := range r.tasks {
		r.wg.Add(1)
		go r.loop(ctx, t)
	}
}

// Stop cancels every task and waits for in-flight runs to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, t Task) {
	defer r.wg.Done()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx, t)
		}
	}
}

// RunOnce executes t immediately. Errors are logged, never returned.
func (r *Runner) RunOnce(ctx context.Context, t Task) {
	start := r.now()
	n, err := t.Run(ctx, start)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.WarnContext(ctx, "sweep task failed", "task", t.Name, "error", err)
		return
	}
	if n > 0 {
		r.logger.DebugContext(ctx, "sweep task done", "task", t.Name, "removed", n, "took", time.Since(start))
	}
}
