package handlers

import (
	"context"
	"errors"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/tg-antispam-go/internal/middleware"
)

var (
	ErrDispatcherClosed = errors.New("dispatcher is shut down")
	ErrQueueFull        = errors.New("dispatch queue is full")
)

// UpdateFunc handles one update
type UpdateFunc func(ctx context.Context, update tgbotapi.Update) error

// Dispatcher runs updates on a fixed number of workers. Updates for the same
// chat run one at a time in arrival order; different chats run in parallel.
type Dispatcher struct {
	workers  int
	maxQueue int

	do  UpdateFunc
	ctx context.Context

	feeder chan *dispatchTask
	out    chan struct{}

	lk      sync.Mutex
	active  map[int64][]*dispatchTask
	pending int
	closed  bool

	metrics *middleware.Metrics
	logger  *logrus.Logger
}

type dispatchTask struct {
	chatID  int64
	update  tgbotapi.Update
	control string
}

// NewDispatcher starts workers that run do. maxQueue bounds the number of
// updates waiting behind a busy chat; zero means unbounded.
func NewDispatcher(ctx context.Context, workers, maxQueue int, do UpdateFunc, metrics *middleware.Metrics, logger *logrus.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}

	d := &Dispatcher{
		workers:  workers,
		maxQueue: maxQueue,
		do:       do,
		ctx:      ctx,
		feeder:   make(chan *dispatchTask),
		out:      make(chan struct{}),
		active:   make(map[int64][]*dispatchTask),
		metrics:  metrics,
		logger:   logger,
	}

	for i := 0; i < workers; i++ {
		go d.worker()
	}

	if metrics != nil {
		metrics.SetDispatchWorkers(workers)
	}

	return d
}

// AddWork queues an update for its chat
func (d *Dispatcher) AddWork(ctx context.Context, chatID int64, update tgbotapi.Update) error {
	t := &dispatchTask{
		chatID: chatID,
		update: update,
	}

	d.lk.Lock()
	if d.closed {
		d.lk.Unlock()
		return ErrDispatcherClosed
	}

	if queue, ok := d.active[chatID]; ok {
		if d.maxQueue > 0 && d.pending >= d.maxQueue {
			d.lk.Unlock()
			return ErrQueueFull
		}
		d.active[chatID] = append(queue, t)
		d.pending++
		d.lk.Unlock()
		d.added()
		return nil
	}

	d.active[chatID] = []*dispatchTask{}
	d.lk.Unlock()
	d.added()

	select {
	case d.feeder <- t:
		return nil
	case <-ctx.Done():
		d.lk.Lock()
		// Nothing runs for this chat, followers queued meanwhile are dropped
		d.pending -= len(d.active[chatID])
		delete(d.active, chatID)
		d.lk.Unlock()
		return ctx.Err()
	}
}

func (d *Dispatcher) added() {
	if d.metrics != nil {
		d.metrics.RecordDispatchAdded()
	}
}

func (d *Dispatcher) worker() {
	for work := range d.feeder {
		for work != nil {
			if work.control == "stop" {
				d.out <- struct{}{}
				return
			}

			if err := d.do(d.ctx, work.update); err != nil {
				d.logger.WithError(err).WithField("chat_id", work.chatID).Error("Update handler failed")
			}
			if d.metrics != nil {
				d.metrics.RecordDispatchProcessed()
			}

			d.lk.Lock()
			rem, ok := d.active[work.chatID]
			if !ok {
				d.logger.WithField("chat_id", work.chatID).Error("Dispatched update has no active entry")
			}

			if len(rem) == 0 {
				delete(d.active, work.chatID)
				work = nil
			} else {
				work = rem[0]
				d.active[work.chatID] = rem[1:]
				d.pending--
			}
			d.lk.Unlock()
		}
	}
}

// Shutdown waits for queued updates to finish and stops the workers.
// AddWork fails with ErrDispatcherClosed afterwards. Callers stop producing
// before calling Shutdown.
func (d *Dispatcher) Shutdown() {
	d.logger.Info("Shutting down update dispatcher")

	d.lk.Lock()
	if d.closed {
		d.lk.Unlock()
		return
	}
	d.closed = true
	d.lk.Unlock()

	for i := 0; i < d.workers; i++ {
		d.feeder <- &dispatchTask{control: "stop"}
	}
	close(d.feeder)

	for i := 0; i < d.workers; i++ {
		<-d.out
	}

	d.logger.Info("Update dispatcher shutdown complete")
}
