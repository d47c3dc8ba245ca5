//go:build unix

package worker

import "golang.org/x/sys/unix"

func readCPU() cpuTimes {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return cpuTimes{}
	}
	return cpuTimes{
		user:   float64(ru.Utime.Nano()) / 1e9,
		system: float64(ru.Stime.Nano()) / 1e9,
	}
}
