package workers

import (
	"chat-relay/contract"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

var _ contract.Worker = (*HealthWorker)(nil)

// HealthWorker logs self-process CPU/RAM plus session gauges on a fixed
// interval. Telemetry only: losing a tick has no effect on the session
// layer.
type HealthWorker struct {
	log            *slog.Logger
	metricInterval time.Duration
	onlineUsers    func() []string
	liveWindows    func() int
}

func NewHealthWorker(log *slog.Logger, metricInterval time.Duration,
	onlineUsers func() []string, liveWindows func() int) *HealthWorker {
	return &HealthWorker{
		log:            log,
		metricInterval: metricInterval,
		onlineUsers:    onlineUsers,
		liveWindows:    liveWindows,
	}
}

func (w *HealthWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping worker")
			return ctx.Err()
		case <-ticker.C:
			cpu, err := p.CPUPercent()
			if err != nil {
				w.log.Error("Error while finding process cpu usage", "err", err)
				continue
			}
			ram, err := p.MemoryPercent()
			if err != nil {
				w.log.Error("Error while finding process ram usage", "err", err)
				continue
			}
			w.log.Info("telemetry: session health",
				"cpu_percent", cpu,
				"ram_percent", ram,
				"online_users", len(w.onlineUsers()),
				"rate_windows", w.liveWindows(),
			)
		}
	}
}
