package appinfo

import (
	"sync/atomic"
	"time"
)

var (
	TotalRecords      atomic.Int64
	TotalBytesWritten atomic.Int64
	TotalRejected     atomic.Int64

	startedAt = time.Now()
)

// Stats is the snapshot served by the stats endpoint.
type Stats struct {
	Records      int64  `json:"records"`
	BytesWritten int64  `json:"bytes_written"`
	Rejected     int64  `json:"rejected"`
	Uptime       string `json:"uptime"`
}

// AddRecord: Called when a derivative record and its files are persisted
func AddRecord(bytes int64) {
	TotalRecords.Add(1)
	TotalBytesWritten.Add(bytes)
}

// RemoveRecord: Called when a derivative record is deleted
func RemoveRecord() {
	TotalRecords.Add(-1)
}

// AddRejected: Called when an upload is refused before any write
func AddRejected() {
	TotalRejected.Add(1)
}

// SetInitialStats: Writes the record count read from the database at startup.
func SetInitialStats(records int64) {
	TotalRecords.Store(records)
}

func Snapshot() Stats {
	return Stats{
		Records:      TotalRecords.Load(),
		BytesWritten: TotalBytesWritten.Load(),
		Rejected:     TotalRejected.Load(),
		Uptime:       time.Since(startedAt).Round(time.Second).String(),
	}
}
