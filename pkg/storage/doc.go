// Package storage provides the durable local mirror backing the queue
// broker (enqueued-but-unprocessed tasks) and the scheduler (last-fire
// timestamps per cadence), so a process restart can replay what was
// durably enqueued and avoid double-firing a cadence it already ran
// this period. It is a single embedded BoltDB file, not a replacement
// for the relational store or the TSDB.
package storage
