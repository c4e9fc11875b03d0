package ui

import "sync/atomic"

type Stats struct {
	TotalImages atomic.Int64
	TotalBytes  atomic.Int64
	TotalJobs   atomic.Int64
	FailedJobs  atomic.Int64
	SkippedJobs atomic.Int64
}
