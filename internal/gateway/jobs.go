package gateway

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mkessel/loremaster/internal/logging"
)

// ErrQueueFull is returned when a game's turn queue is saturated.
var ErrQueueFull = errors.New("turn queue full")

// turnJobBuffer bounds how many turns may wait per game.
const turnJobBuffer = 32

type turnJob struct {
	id  string
	run func(ctx context.Context)
}

// TurnQueue runs enqueued turns asynchronously, one worker per game, so
// turns for the same game never interleave while different games
// proceed in parallel.
type TurnQueue struct {
	ctx context.Context
	log *logging.Logger

	mu     sync.Mutex
	queues map[int64]chan turnJob
	wg     sync.WaitGroup
}

// NewTurnQueue creates a queue bound to ctx. Workers exit when ctx is
// cancelled; jobs still waiting in a queue at that point are dropped.
func NewTurnQueue(ctx context.Context, log *logging.Logger) *TurnQueue {
	return &TurnQueue{
		ctx:    ctx,
		log:    log,
		queues: make(map[int64]chan turnJob),
	}
}

// Enqueue schedules a turn for a game. The returned job ID is only
// used for logging. Enqueue never blocks: a saturated per-game queue
// returns ErrQueueFull instead.
func (q *TurnQueue) Enqueue(gameID int64, run func(ctx context.Context)) (string, error) {
	job := turnJob{id: uuid.New().String(), run: run}

	q.mu.Lock()
	ch, ok := q.queues[gameID]
	if !ok {
		ch = make(chan turnJob, turnJobBuffer)
		q.queues[gameID] = ch
		q.wg.Add(1)
		go q.worker(gameID, ch)
	}
	q.mu.Unlock()

	select {
	case ch <- job:
		q.log.Debug().Int64("game", gameID).Str("job", job.id).Msg("turn queued")
		return job.id, nil
	default:
		return "", ErrQueueFull
	}
}

// Wait blocks until all game workers have exited. Call after the
// queue's context is cancelled.
func (q *TurnQueue) Wait() {
	q.wg.Wait()
}

func (q *TurnQueue) worker(gameID int64, ch chan turnJob) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-ch:
			q.runJob(gameID, job)
		}
	}
}

// runJob executes one turn, containing panics so a bad turn never
// takes down the worker.
func (q *TurnQueue) runJob(gameID int64, job turnJob) {
	defer func() {
		if rec := recover(); rec != nil {
			q.log.Error().
				Int64("game", gameID).
				Str("job", job.id).
				Any("panic", rec).
				Msg("turn job panicked")
		}
	}()
	job.run(q.ctx)
}

// shortBacktrace captures the current goroutine's stack as a bounded
// list of lines for diagnostic error events.
func shortBacktrace(limit int) []string {
	buf := make([]byte, 16*1024)
	n := runtime.Stack(buf, false)
	lines := strings.Split(strings.TrimSpace(string(buf[:n])), "\n")
	if len(lines) > limit {
		lines = lines[:limit]
	}
	return lines
}
