package musicgen

import (
	"context"
	"fmt"
	"time"
)

// generate submits req and waits for the resulting task to finish.
func (c *Coordinator) generate(ctx context.Context, req GeneratorRequest) (GeneratorTask, error) {
	task, err := c.generator.Generate(ctx, req)
	if err != nil {
		return task, err
	}
	return c.await(ctx, task)
}

// await polls a pending task every PollingInterval. A task still pending
// after GenerationTimeout fails with ErrServiceUnavailable.
func (c *Coordinator) await(ctx context.Context, task GeneratorTask) (GeneratorTask, error) {
	var waited time.Duration
	for {
		switch task.Status {
		case TaskCompleted:
			if task.Track == nil || task.Track.AudioURL == "" {
				return task, fmt.Errorf("%w: task %q completed without audio", ErrNoData, task.TaskID)
			}
			return task, nil
		case TaskFailed:
			return task, fmt.Errorf("%w: task %q failed: %s", ErrServer, task.TaskID, task.Detail)
		}

		if task.TaskID == "" {
			return task, fmt.Errorf("%w: pending task without id", ErrNoData)
		}
		if waited >= c.cfg.GenerationTimeout {
			return task, fmt.Errorf("%w: task %q not ready after %s", ErrServiceUnavailable, task.TaskID, waited)
		}

		if err := c.sleep(ctx, c.cfg.PollingInterval); err != nil {
			return task, err
		}
		waited += c.cfg.PollingInterval

		next, err := c.generator.Poll(ctx, task.TaskID)
		if err != nil {
			return task, err
		}
		if next.TaskID == "" {
			next.TaskID = task.TaskID
		}
		task = next
	}
}
