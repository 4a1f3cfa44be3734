// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package timeline predicts a server instance's future core
// availability from the jobs the client has itself placed there,
// independent of the remote system's live counters.
package timeline

import (
	"container/heap"
	"sort"
)

type entry struct {
	end   int64 // simulated time the job's cores come free
	cores int
}

// entryHeap is a min-heap keyed on end time.
type entryHeap []entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].end < h[j].end }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// A Timeline tracks the predicted in-flight jobs on one server
// instance. Entries are owned exclusively by the instance's Timeline;
// the model is maintained only through its own insertions and is
// never reconciled against live counters.
type Timeline struct {
	totalCores int
	entries    entryHeap
}

// New returns a Timeline for a server with the given total core
// capacity. The capacity is fixed for the life of the model.
func New(totalCores int) *Timeline {
	return &Timeline{totalCores: totalCores}
}

// TotalCores returns the model's fixed core capacity.
func (tl *Timeline) TotalCores() int {
	return tl.totalCores
}

// PruneToTime discards every entry whose end time is at or before
// now, so stale predictions never inflate the occupied-core count.
func (tl *Timeline) PruneToTime(now int64) {
	for len(tl.entries) > 0 && tl.entries[0].end <= now {
		heap.Pop(&tl.entries)
	}
}

// RunningCores returns the sum of cores occupied by all retained
// entries.
func (tl *Timeline) RunningCores() int {
	running := 0
	for _, e := range tl.entries {
		running += e.cores
	}
	return running
}

// EarliestStart returns the earliest simulated time at or after now
// when at least cores cores are predicted free. It prunes to now
// first. If no release suffices -- which upstream capability
// filtering is supposed to rule out -- it returns the last simulated
// release time.
func (tl *Timeline) EarliestStart(now int64, cores int) int64 {
	tl.PruneToTime(now)
	avail := tl.totalCores - tl.RunningCores()
	if avail >= cores {
		return now
	}
	// Simulate entries releasing their cores in end-time order,
	// advancing a clock that never goes backward.
	pending := append(entryHeap(nil), tl.entries...)
	sort.Sort(pending)
	t := now
	for _, e := range pending {
		if e.end > t {
			t = e.end
		}
		avail += e.cores
		if avail >= cores {
			return t
		}
	}
	return t
}

// AddJob records a new predicted job occupying cores cores from start
// until start+est, and returns that end time. It does not validate
// against capacity: the caller has already computed a feasible start
// via EarliestStart.
func (tl *Timeline) AddJob(start int64, cores int, est int64) int64 {
	end := start + est
	heap.Push(&tl.entries, entry{end: end, cores: cores})
	return end
}
