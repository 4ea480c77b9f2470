package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"github.com/desertthunder/pihome/internal/services"
	"github.com/desertthunder/pihome/internal/shared"
)

// Job is a unit of recurring work. Run returns how many records it changed.
type Job interface {
	Name() string
	Run(ctx context.Context) (int, error)
}

// Scheduler runs jobs on cron specs (seconds field enabled, descriptors such as "@every 15s" accepted).
// Overlapping runs of the same job are skipped and panics are recovered.
type Scheduler struct {
	cron   *cron.Cron
	logger *log.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	logger = shared.WithLogger(logger, "component", "scheduler")
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add schedules job on spec.
func (s *Scheduler) Add(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() { s.RunNow(s.ctx, job) })
	if err != nil {
		return fmt.Errorf("%w: schedule %q for %s: %v", shared.ErrInvalidConfig, spec, job.Name(), err)
	}
	s.logger.Debug("job scheduled", "job", job.Name(), "spec", spec)
	return nil
}

// RunNow runs job once and logs the outcome.
func (s *Scheduler) RunNow(ctx context.Context, job Job) (int, error) {
	start := time.Now()
	n, err := job.Run(ctx)
	if err != nil {
		s.logger.Error("job failed", "job", job.Name(), "error", err, "elapsed", time.Since(start))
		return n, err
	}
	if n > 0 {
		s.logger.Info("job finished", "job", job.Name(), "changed", n, "elapsed", time.Since(start))
	}
	return n, nil
}

// Len is the number of scheduled jobs.
func (s *Scheduler) Len() int { return len(s.cron.Entries()) }

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling, cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

type cronLogger struct {
	logger *log.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.logger.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// HeartbeatSweeper marks online devices offline once their last heartbeat is older than Timeout.
type HeartbeatSweeper struct {
	status  *services.DeviceStatusService
	timeout time.Duration
}

func NewHeartbeatSweeper(status *services.DeviceStatusService, timeout time.Duration) *HeartbeatSweeper {
	return &HeartbeatSweeper{status: status, timeout: timeout}
}

func (h *HeartbeatSweeper) Name() string { return "heartbeat-sweep" }

func (h *HeartbeatSweeper) Run(ctx context.Context) (int, error) {
	return h.status.MarkStaleDevicesOffline(ctx, h.timeout)
}

// SpotifyDeviceSync retries device resolution for every Spotify connection that has no device yet.
type SpotifyDeviceSync struct {
	connections *services.SpotifyConnectionsService
	logger      *log.Logger
}

func NewSpotifyDeviceSync(connections *services.SpotifyConnectionsService, logger *log.Logger) *SpotifyDeviceSync {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &SpotifyDeviceSync{connections: connections, logger: logger}
}

func (s *SpotifyDeviceSync) Name() string { return "spotify-device-sync" }

// Run resolves what it can. Families with no available device are skipped quietly; other failures
// are joined into the returned error.
func (s *SpotifyDeviceSync) Run(ctx context.Context) (int, error) {
	pending, err := s.connections.ListWithoutDevice(ctx)
	if err != nil {
		return 0, err
	}

	var (
		resolved int
		errs     []error
	)
	for _, conn := range pending {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		deviceID, err := s.connections.ResolveDeviceID(ctx, conn.FamilyID)
		switch {
		case errors.Is(err, shared.ErrNotFound):
			s.logger.Debug("no spotify device yet", "family", conn.FamilyID)
		case err != nil:
			errs = append(errs, fmt.Errorf("family %s: %w", conn.FamilyID, err))
		default:
			s.logger.Info("spotify device resolved", "family", conn.FamilyID, "device", deviceID)
			resolved++
		}
	}
	return resolved, errors.Join(errs...)
}
