package server

import "time"

// MetricsCollector is an optional interface for collecting server metrics,
// for example to feed Prometheus or StatsD.
//
// Methods are called from session goroutines and should not block.
type MetricsCollector interface {
	// RecordCommand records one dispatched command. success is false when
	// the command's reply was a 4xx or 5xx.
	RecordCommand(cmd string, success bool, duration time.Duration)

	// RecordTransfer records a finished data transfer. operation is the
	// verb (RETR, STOR, APPE, STOU, LIST, NLST or MLSD) and bytes counts
	// file or listing bytes, before any MODE Z compression.
	RecordTransfer(operation string, bytes int64, duration time.Duration)

	// RecordConnection records a connection attempt and why it was
	// accepted or rejected ("accepted", "global_limit_reached",
	// "per_ip_limit_reached").
	RecordConnection(accepted bool, reason string)

	// RecordAuthentication records a login attempt.
	RecordAuthentication(success bool, user string)
}
