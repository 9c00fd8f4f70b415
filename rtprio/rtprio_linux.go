//go:build linux

package rtprio

import (
	"log"

	"golang.org/x/sys/unix"
)

// niceDelta is the nice-level adjustment requested for decode/sink threads.
// A more negative value raises scheduling priority; -10 mirrors the
// original's mmcss "pro audio" task class intent without requiring
// CAP_SYS_NICE (most distros allow a bounded negative nice via RLIMIT_NICE).
const niceDelta = -10

type linuxGuard struct {
	acquired bool
}

// New returns the best-effort Linux realtime-priority guard.
func New() Guard {
	return &linuxGuard{}
}

func (g *linuxGuard) Acquire() error {
	tid := unix.Gettid()
	if err := unix.Setpriority(unix.PRIO_PROCESS, tid, niceDelta); err != nil {
		log.Printf("rtprio: setpriority failed, continuing at default priority: %v", err)
		return nil
	}
	g.acquired = true
	return nil
}

func (g *linuxGuard) Release() {
	if !g.acquired {
		return
	}
	tid := unix.Gettid()
	if err := unix.Setpriority(unix.PRIO_PROCESS, tid, 0); err != nil {
		log.Printf("rtprio: failed to restore default priority: %v", err)
	}
	g.acquired = false
}
