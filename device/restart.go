package device

import (
	"sync"
	"time"

	"github.com/user/ergo-blue/logger"
)

// Restarter schedules a device restart. The delay lets the last BLE response
// leave the radio before the stack goes down.
type Restarter interface {
	RestartAfter(d time.Duration)
}

// TimerRestarter runs a restart function on a timer. A later RestartAfter
// replaces the pending one.
type TimerRestarter struct {
	restart func()

	mu    sync.Mutex
	timer *time.Timer
	count int
}

// NewTimerRestarter creates a restarter calling restart when due.
func NewTimerRestarter(restart func()) *TimerRestarter {
	return &TimerRestarter{restart: restart}
}

func (r *TimerRestarter) RestartAfter(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
	}
	r.count++
	logger.Info("DEVICE", "restart scheduled in %v", d)
	r.timer = time.AfterFunc(d, func() {
		logger.Info("DEVICE", "restarting")
		r.restart()
	})
}

// Cancel stops a pending restart
func (r *TimerRestarter) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer == nil {
		return false
	}
	stopped := r.timer.Stop()
	r.timer = nil
	return stopped
}

// Scheduled returns how many restarts have been requested
func (r *TimerRestarter) Scheduled() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
