package agent

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/LeonardoBeccarini/autogrow-agent/internal/model/messages"
)

var ErrQueueFull = errors.New("command queue full")

// Result is what the loop answers to a command.
type Result struct {
	Changed bool
	Err     error
}

type command struct {
	source   string
	action   messages.Action
	duration time.Duration
	reply    chan Result // nil when nobody waits
}

// queue hands operator commands to the loop goroutine, which is the only
// one allowed to drive the controller.
type queue struct {
	ch chan command
}

func newQueue(size int) *queue {
	if size < 1 {
		size = 1
	}
	return &queue{ch: make(chan command, size)}
}

// submit never blocks; a full queue is reported as ErrQueueFull.
func (q *queue) submit(cmd command) error {
	select {
	case q.ch <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// call submits and waits for the loop to answer or ctx to end.
func (q *queue) call(ctx context.Context, source string, action messages.Action, d time.Duration) (Result, error) {
	cmd := command{source: source, action: action, duration: d, reply: make(chan Result, 1)}
	if err := q.submit(cmd); err != nil {
		return Result{}, err
	}
	select {
	case res := <-cmd.reply:
		return res, nil
	case <-ctx.Done():
		return Result{}, errors.Wrap(ctx.Err(), "waiting for the control loop")
	}
}
