//go:build !unix

package worker

// readCPU reports zero where getrusage is unavailable.
func readCPU() cpuTimes { return cpuTimes{} }
