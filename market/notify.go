/*
notify.go - Fire-and-forget delivery notification

PURPOSE:
  After an assignment commits, the winning buyer is told about the lead
  over three independent channels: email, SMS, and webhook. Delivery is
  strictly best-effort and decoupled from the financial commit: the
  engine hands a job to a background dispatcher and moves on. Channel
  failures are logged and counted, never propagated, and never cause an
  assignment rollback.

DESIGN:
  - Bounded queue with worker goroutines and a Start/Stop lifecycle.
    Enqueue never blocks; a full queue drops the job (the surrounding
    system's webhook retry sweep lives outside this core).
  - Per-job, the three channels fan out in parallel; each logs its own
    failure and the job completes regardless.

SEE ALSO:
  - engine.go: Enqueues a job after each committed assignment
*/
package market

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/warp/lead-engine/metrics"
)

// =============================================================================
// NOTIFIER - External collaborator (black box, 3 channels)
// =============================================================================

type Notifier interface {
	NotifyEmail(ctx context.Context, buyerID BuyerID, payload map[string]string) error
	NotifySMS(ctx context.Context, buyerID BuyerID, payload map[string]string) error
	NotifyWebhook(ctx context.Context, buyerID BuyerID, leadID LeadID, payload map[string]string) error
}

// NopNotifier discards every notification. Useful for tests and for
// running the engine without delivery infrastructure.
type NopNotifier struct{}

func (NopNotifier) NotifyEmail(context.Context, BuyerID, map[string]string) error { return nil }
func (NopNotifier) NotifySMS(context.Context, BuyerID, map[string]string) error   { return nil }
func (NopNotifier) NotifyWebhook(context.Context, BuyerID, LeadID, map[string]string) error {
	return nil
}

// =============================================================================
// DISPATCHER - Background executor for notification jobs
// =============================================================================

type NotificationJob struct {
	Assignment LeadAssignment
	Lead       Lead
}

type Dispatcher struct {
	Notifier Notifier
	Log      zerolog.Logger

	// Workers and QueueSize apply at Start; zero values get defaults.
	Workers   int
	QueueSize int

	// Timeout bounds each job's delivery across all channels.
	Timeout time.Duration

	queue chan NotificationJob
	stop  chan struct{}
	wg    sync.WaitGroup
	mu    sync.Mutex
}

func NewDispatcher(notifier Notifier, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		Notifier:  notifier,
		Log:       log,
		Workers:   4,
		QueueSize: 256,
		Timeout:   10 * time.Second,
	}
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.queue != nil {
		return
	}
	if d.Workers <= 0 {
		d.Workers = 4
	}
	if d.QueueSize <= 0 {
		d.QueueSize = 256
	}
	d.queue = make(chan NotificationJob, d.QueueSize)
	d.stop = make(chan struct{})

	for i := 0; i < d.Workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	d.Log.Info().Int("workers", d.Workers).Int("queue", d.QueueSize).Msg("notification dispatcher started")
}

// Stop drains the queue and waits for in-flight deliveries.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.queue == nil {
		return
	}
	close(d.stop)
	d.wg.Wait()
	d.queue = nil
	d.Log.Info().Msg("notification dispatcher stopped")
}

// Enqueue hands a job to the dispatcher without blocking. A full queue
// drops the job; a stopped dispatcher delivers inline as a last resort
// so the caller still never blocks on channel latency beyond Timeout.
func (d *Dispatcher) Enqueue(job NotificationJob) {
	d.mu.Lock()
	queue := d.queue
	d.mu.Unlock()

	if queue == nil {
		go d.deliver(job)
		return
	}
	select {
	case queue <- job:
	default:
		metrics.NotificationsDropped.Inc()
		d.Log.Warn().Str("lead", string(job.Lead.ID)).Str("buyer", string(job.Assignment.BuyerID)).
			Msg("notification queue full, job dropped")
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.deliver(job)
		case <-d.stop:
			// Drain what's already queued before exiting.
			for {
				select {
				case job := <-d.queue:
					d.deliver(job)
				default:
					return
				}
			}
		}
	}
}

// deliver fans the job out to all three channels in parallel. Each
// channel logs and counts its own failure; none aborts the others.
func (d *Dispatcher) deliver(job NotificationJob) {
	ctx := context.Background()
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	payload := map[string]string{
		"lead_id":       string(job.Lead.ID),
		"campaign_id":   string(job.Lead.CampaignID),
		"assignment_id": string(job.Assignment.ID),
		"price":         job.Assignment.Price.String(),
		"tier":          string(job.Lead.Tier),
		"region":        job.Lead.Region,
	}
	buyerID := job.Assignment.BuyerID

	var g errgroup.Group
	g.Go(func() error {
		d.report("email", job, d.Notifier.NotifyEmail(ctx, buyerID, payload))
		return nil
	})
	g.Go(func() error {
		d.report("sms", job, d.Notifier.NotifySMS(ctx, buyerID, payload))
		return nil
	})
	g.Go(func() error {
		d.report("webhook", job, d.Notifier.NotifyWebhook(ctx, buyerID, job.Lead.ID, payload))
		return nil
	})
	_ = g.Wait()
}

func (d *Dispatcher) report(channel string, job NotificationJob, err error) {
	if err == nil {
		return
	}
	metrics.NotificationFailures.WithLabelValues(channel).Inc()
	d.Log.Warn().Err(err).Str("channel", channel).
		Str("lead", string(job.Lead.ID)).Str("buyer", string(job.Assignment.BuyerID)).
		Msg("notification delivery failed")
}
