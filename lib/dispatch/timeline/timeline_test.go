// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package timeline

import (
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&TimelineSuite{})

type TimelineSuite struct{}

func (*TimelineSuite) TestPruneDropsExpired(c *check.C) {
	tl := New(8)
	tl.AddJob(0, 2, 100)
	tl.AddJob(0, 3, 200)
	tl.AddJob(50, 1, 300)
	c.Check(tl.RunningCores(), check.Equals, 6)

	tl.PruneToTime(100)
	c.Check(tl.RunningCores(), check.Equals, 4)

	// Entries with end time exactly equal to now are stale too.
	tl.PruneToTime(200)
	c.Check(tl.RunningCores(), check.Equals, 1)

	tl.PruneToTime(350)
	c.Check(tl.RunningCores(), check.Equals, 0)
}

func (*TimelineSuite) TestEarliestStartImmediate(c *check.C) {
	tl := New(4)
	c.Check(tl.EarliestStart(10, 4), check.Equals, int64(10))

	tl.AddJob(10, 2, 100)
	c.Check(tl.EarliestStart(10, 2), check.Equals, int64(10))
}

func (*TimelineSuite) TestEarliestStartWaitsForRelease(c *check.C) {
	tl := New(4)
	tl.AddJob(0, 3, 100)
	// 1 core free now, 4 free at t=100
	c.Check(tl.EarliestStart(10, 1), check.Equals, int64(10))
	c.Check(tl.EarliestStart(10, 2), check.Equals, int64(100))

	tl.AddJob(100, 2, 200)
	// after t=100: 3 in flight until 100, then 2 until 300
	c.Check(tl.EarliestStart(10, 3), check.Equals, int64(100))
	c.Check(tl.EarliestStart(10, 4), check.Equals, int64(300))
}

func (*TimelineSuite) TestEarliestStartMonotonicInDemand(c *check.C) {
	tl := New(8)
	tl.AddJob(0, 3, 50)
	tl.AddJob(0, 2, 120)
	tl.AddJob(20, 2, 300)
	prev := int64(0)
	for cores := 1; cores <= 8; cores++ {
		t := tl.EarliestStart(30, cores)
		if !c.Check(t >= prev, check.Equals, true, check.Commentf("cores=%d: %d < %d", cores, t, prev)) {
			return
		}
		prev = t
	}
}

func (*TimelineSuite) TestEarliestStartMonotonicInLoad(c *check.C) {
	tl := New(8)
	prev := tl.EarliestStart(0, 6)
	for i := 0; i < 5; i++ {
		tl.AddJob(int64(i*10), 2, 500)
		t := tl.EarliestStart(0, 6)
		c.Check(t >= prev, check.Equals, true, check.Commentf("after %d jobs: %d < %d", i+1, t, prev))
		prev = t
	}
}

func (*TimelineSuite) TestDegenerateDemand(c *check.C) {
	tl := New(4)
	tl.AddJob(0, 2, 100)
	tl.AddJob(0, 2, 250)
	// Demand exceeding total capacity degenerates to the last
	// release time. Capability filtering upstream is supposed to
	// make this unreachable.
	c.Check(tl.EarliestStart(0, 5), check.Equals, int64(250))
}

func (*TimelineSuite) TestAddJobConsistency(c *check.C) {
	tl := New(4)
	start := tl.EarliestStart(100, 3)
	c.Check(start, check.Equals, int64(100))
	end := tl.AddJob(start, 3, 60)
	c.Check(end, check.Equals, int64(160))

	// A second job needing more than the leftover core cannot be
	// predicted to start before the first one releases.
	c.Check(tl.EarliestStart(100, 3), check.Equals, int64(160))
	c.Check(tl.EarliestStart(100, 1), check.Equals, int64(100))
}

func (*TimelineSuite) TestPruneRoundTrip(c *check.C) {
	tl := New(16)
	var ends []int64
	for i := 0; i < 10; i++ {
		ends = append(ends, tl.AddJob(int64(i*7), 1+i%3, int64(100+i*13)))
	}
	for _, end := range ends {
		tl.PruneToTime(end)
	}
	c.Check(tl.RunningCores(), check.Equals, 0)
}
