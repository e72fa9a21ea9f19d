// Package batch implements the Batch Planner: on each scheduler tick it
// turns the current set of enabled devices into a BatchPlan — a batch
// size and a partition of device IDs — sized so that roughly ten batches
// run per interval, and rotated across ticks so no worker pool sees the
// same partition membership twice in a row.
package batch

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
	"github.com/wardflux/netmon/pkg/types"
)

const (
	minBatchSize = 50
	maxBatchSize = 500
	roundTo      = 50
	targetBatchCount = 10
)

// Size computes the per-batch device count for n enabled devices:
// target = ceil(n / 10), rounded up to the nearest 50, clamped to
// [50, 500].
func Size(n int) int {
	if n <= 0 {
		return minBatchSize
	}

	target := (n + targetBatchCount - 1) / targetBatchCount
	target = roundUp(target, roundTo)

	if target < minBatchSize {
		return minBatchSize
	}
	if target > maxBatchSize {
		return maxBatchSize
	}
	return target
}

func roundUp(n, multiple int) int {
	if n%multiple == 0 {
		return n
	}
	return ((n / multiple) + 1) * multiple
}

// Planner partitions device IDs into batches using rendezvous (highest
// random weight) hashing, reseeded per tick so that partition membership
// rotates across ticks without a full reshuffle.
type Planner struct{}

// NewPlanner returns a Planner. It holds no state: every call to Plan is
// self-contained given the device list and tick index.
func NewPlanner() *Planner {
	return &Planner{}
}

// Plan computes a BatchPlan for the given enabled device IDs at the
// given scheduler tick.
func (p *Planner) Plan(deviceIDs []types.DeviceID, tick uint64) types.BatchPlan {
	batchSize := Size(len(deviceIDs))
	batchCount := 0
	if batchSize > 0 {
		batchCount = (len(deviceIDs) + batchSize - 1) / batchSize
	}
	if batchCount == 0 {
		return types.BatchPlan{Tick: tick, BatchSize: batchSize, BatchCount: 0}
	}

	// The tick is part of every bucket label, so each tick ranks the
	// buckets against different node hashes and membership rotates.
	buckets := make([]string, batchCount)
	for i := range buckets {
		buckets[i] = fmt.Sprintf("bucket-%d-%d", tick, i)
	}

	r := rendezvous.New(buckets, xxhash.Sum64String)

	partitions := make([][]types.DeviceID, batchCount)
	for _, id := range deviceIDs {
		bucket := r.Lookup(string(id))
		idx := bucketIndex(bucket, buckets)
		partitions[idx] = append(partitions[idx], id)
	}

	return types.BatchPlan{
		Tick:       tick,
		BatchSize:  batchSize,
		BatchCount: batchCount,
		Partitions: partitions,
	}
}

func bucketIndex(bucket string, buckets []string) int {
	for i, b := range buckets {
		if b == bucket {
			return i
		}
	}
	return 0
}
