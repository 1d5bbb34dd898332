package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNotStarted is returned when messages are enqueued before Start or after Shutdown.
var ErrNotStarted = errors.New("mail dispatcher is not running")

// Dispatcher delivers messages in the background so request handlers never
// wait on the mail transport.
type Dispatcher interface {
	Start(ctx context.Context) error
	Shutdown()
	Enqueue(ctx context.Context, msg Message) error
}

type Config struct {
	MaxConcurrent int
	SendTimeout   time.Duration
	Logger        *logrus.Logger
	// OnResult observes the outcome of every delivery attempt.
	OnResult func(err error)
}

type dispatcher struct {
	cfg    Config
	sender Sender

	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewDispatcher(cfg Config, sender Sender) Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &dispatcher{
		cfg:    cfg,
		sender: sender,
		sem:    make(chan struct{}, cfg.MaxConcurrent),
	}
}

func (d *dispatcher) Start(ctx context.Context) error {
	if d.sender == nil {
		return fmt.Errorf("mail sender is required")
	}
	d.mu.Lock()
	// only Shutdown ends deliveries; cancelling ctx must not strand drained ones
	d.ctx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))
	d.mu.Unlock()
	d.cfg.Logger.Infof("mail dispatcher started, max concurrent: %d", d.cfg.MaxConcurrent)
	return nil
}

// Shutdown stops accepting messages and waits for queued ones to finish.
// Deliveries already waiting for a slot are still attempted.
func (d *dispatcher) Shutdown() {
	d.mu.Lock()
	cancel := d.cancel
	d.ctx, d.cancel = nil, nil
	d.mu.Unlock()

	d.wg.Wait()
	if cancel != nil {
		cancel()
	}
	d.cfg.Logger.Info("mail dispatcher stopped")
}

func (d *dispatcher) Enqueue(_ context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("mail has no recipients")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return ErrNotStarted
	}

	// detached from the request context: the request finishes before delivery
	runCtx := d.ctx
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sem <- struct{}{}
		defer func() { <-d.sem }()
		d.deliver(runCtx, msg)
	}()
	return nil
}

func (d *dispatcher) deliver(ctx context.Context, msg Message) {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	err := d.sender.Send(sendCtx, msg)
	if err != nil {
		d.cfg.Logger.WithError(err).WithField("subject", msg.Subject).Warn("mail delivery failed")
	}
	if d.cfg.OnResult != nil {
		d.cfg.OnResult(err)
	}
}
