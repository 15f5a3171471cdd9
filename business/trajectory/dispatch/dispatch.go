// Package dispatch implements the per-device worker pool (spec.md §5):
// it polls for devices with new samples and runs the pipeline for each one
// on a bounded pool of long-running workers, in the teacher's
// sync.WaitGroup + shutdown-channel idiom (app/gtfs-aggregator/aggregator's
// StartPredictionAggregator / runBackgroundLoop).
package dispatch

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/opentransittools/trajectorycore/business/data/store"
	"github.com/opentransittools/trajectorycore/business/trajectory/errs"
)

// DeviceRunner runs the pipeline for one device's window; cmd/trajectory-core
// wraps RunDevice from the parent business/trajectory package in a closure
// of this shape.
type DeviceRunner func(ctx context.Context, deviceID string, start, end time.Time) error

// Locker guards a device against concurrent processing by more than one
// dispatcher instance. The no-op implementation is used when no
// distributed lock backend is configured (spec.md §5, optional Redis
// lock).
type Locker interface {
	TryLock(ctx context.Context, deviceID string) (release func(), ok bool, err error)
}

// Conf carries the dispatcher's tunables.
type Conf struct {
	// PollInterval is how often FindDevicesWithNewSamples is polled.
	PollInterval time.Duration `conf:"default:15s"`
	// WorkerCount sizes the bounded pool of goroutines processing devices.
	WorkerCount int `conf:"default:4"`
	// WindowSize is how far back from now discovery looks for received
	// samples. A device's run starts at its last-processed cursor, which
	// WindowSize does not bound.
	WindowSize time.Duration `conf:"default:24h"`
}

// Dispatcher polls for devices with unprocessed samples and fans work out
// to a bounded worker pool, one DeviceRunner call per device per cycle.
type Dispatcher struct {
	log      *log.Logger
	conf     Conf
	work     store.WorkDiscoverer
	run      DeviceRunner
	locker   Locker
	clock    clockwork.Clock
	cursors  map[string]time.Time
	cursorMu sync.Mutex
}

// New builds a Dispatcher. locker may be nil, in which case every TryLock
// succeeds locally (single-instance deployment).
func New(logger *log.Logger, conf Conf, work store.WorkDiscoverer, run DeviceRunner, locker Locker) *Dispatcher {
	if locker == nil {
		locker = noopLocker{}
	}
	return &Dispatcher{
		log:     logger,
		conf:    conf,
		work:    work,
		run:     run,
		locker:  locker,
		clock:   clockwork.NewRealClock(),
		cursors: make(map[string]time.Time),
	}
}

// WithClock overrides the dispatcher's source of "now", letting tests drive
// cursor advancement and window discovery with a clockwork.FakeClock
// instead of wall-clock time.
func (d *Dispatcher) WithClock(clock clockwork.Clock) *Dispatcher {
	d.clock = clock
	return d
}

// Run polls on conf.PollInterval, submitting discovered devices onto a
// pool of conf.WorkerCount workers, until shutdownSignal fires, at which
// point it waits for in-flight work to finish before returning.
func (d *Dispatcher) Run(ctx context.Context, shutdownSignal chan os.Signal) error {
	tasks := make(chan store.DeviceCursor, d.conf.WorkerCount*2)
	var wg sync.WaitGroup

	for i := 0; i < d.conf.WorkerCount; i++ {
		wg.Add(1)
		go d.worker(ctx, &wg, tasks)
	}

	pollShutdown := make(chan struct{})
	var pollWG sync.WaitGroup
	pollWG.Add(1)
	go d.pollLoop(ctx, &pollWG, tasks, pollShutdown)

	<-shutdownSignal
	d.log.Printf("dispatch: shutdown signal received, draining")
	close(pollShutdown)
	pollWG.Wait()
	close(tasks)
	wg.Wait()
	d.log.Printf("dispatch: all workers stopped")
	return nil
}

func (d *Dispatcher) pollLoop(ctx context.Context, wg *sync.WaitGroup, tasks chan<- store.DeviceCursor, shutdown <-chan struct{}) {
	defer wg.Done()
	ticker := time.NewTicker(d.conf.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		since := d.clock.Now().Add(-d.conf.WindowSize)
		devices, err := d.work.FindDevicesWithNewSamples(ctx, since)
		if err != nil {
			d.log.Printf("dispatch: discovering devices: %v", err)
			continue
		}
		for _, dev := range devices {
			select {
			case tasks <- dev:
			case <-shutdown:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context, wg *sync.WaitGroup, tasks <-chan store.DeviceCursor) {
	defer wg.Done()
	for dev := range tasks {
		release, ok, err := d.locker.TryLock(ctx, dev.DeviceID)
		if err != nil {
			d.log.Printf("dispatch: lock error for device %s: %v", dev.DeviceID, err)
			continue
		}
		if !ok {
			continue
		}

		start := d.lastProcessed(dev)
		end := d.clock.Now()
		if err := d.run(ctx, dev.DeviceID, start, end); err != nil && !errs.IsNoData(err) {
			d.log.Printf("dispatch: device %s failed: %v", dev.DeviceID, err)
		} else {
			d.setLastProcessed(dev.DeviceID, end)
		}
		release()
	}
}

func (d *Dispatcher) lastProcessed(dev store.DeviceCursor) time.Time {
	d.cursorMu.Lock()
	defer d.cursorMu.Unlock()
	if t, ok := d.cursors[dev.DeviceID]; ok && t.After(dev.LastProcessed) {
		return t
	}
	return dev.LastProcessed
}

func (d *Dispatcher) setLastProcessed(deviceID string, t time.Time) {
	d.cursorMu.Lock()
	defer d.cursorMu.Unlock()
	d.cursors[deviceID] = t
}

type noopLocker struct{}

func (noopLocker) TryLock(ctx context.Context, deviceID string) (func(), bool, error) {
	return func() {}, true, nil
}
