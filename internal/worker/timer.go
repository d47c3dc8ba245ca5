package worker

import (
	"time"

	"github.com/ChuLiYu/mwcontrol/internal/envelope"
)

// Timer measures one command: wall clock plus process user/system time.
//
// Process times come from getrusage for the whole process, so workers
// hosted in the same process see each other's CPU time.
type Timer struct {
	start time.Time
	cpu0  cpuTimes
}

// cpuTimes is process CPU usage in seconds.
type cpuTimes struct {
	user   float64
	system float64
}

// StartTimer starts both clocks.
func StartTimer() *Timer {
	return &Timer{start: time.Now(), cpu0: readCPU()}
}

// Times returns the timing block for a reply envelope.
func (t *Timer) Times() envelope.Times {
	wall := time.Since(t.start).Seconds()
	cpu := readCPU()
	return envelope.Times{
		Real:    float32(wall),
		System:  float32(cpu.system - t.cpu0.system),
		User:    float32(cpu.user - t.cpu0.user),
		Elapsed: wall,
	}
}
