// Package jobstore persists per-user transfer job records.
//
// A record exists iff a batch/single job is in flight for that user; the
// store enforces one record per user. Records are durable across process
// restarts so interrupted jobs can be inspected and cleaned on startup.
package jobstore
