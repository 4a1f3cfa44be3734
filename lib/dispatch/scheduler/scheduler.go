// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package scheduler chooses the server instance that minimizes a
// job's predicted finish time, with boot-time and cost-bias
// tie-breaking.
package scheduler

import (
	"errors"

	"git.arvados.org/dsched.git/lib/dispatch/timeline"
	"git.arvados.org/dsched.git/sdk/go/dsim"
	"github.com/sirupsen/logrus"
)

// ErrNoCandidates means the remote system reported no servers at all
// for a job it declared submittable. Unreachable under a correctly
// behaving remote system.
var ErrNoCandidates = errors.New("no candidate servers")

// A TimelinePool hands out per-server timeline models, creating them
// on first reference.
type TimelinePool interface {
	Timeline(srv dsim.ServerInstance) *timeline.Timeline
}

// A Scheduler ranks the capability-filtered candidates for one job
// and picks exactly one (server type, server id) to host it.
type Scheduler struct {
	Pool    TimelinePool
	Catalog *dsim.Catalog

	// CostBias weights a server type's hourly rate into the
	// ranking, shaping near-ties toward cheaper types. It is not
	// a cost estimate.
	CostBias float64

	// DefaultBootPenalty (seconds) is charged to non-runnable
	// servers whose type the catalog doesn't know.
	DefaultBootPenalty int64

	Logger logrus.FieldLogger
}

// A Choice is the selected placement for one job.
type Choice struct {
	ServerType string
	ServerID   int

	// Predicted start and finish times. For a fast-path choice
	// these trust the live report; otherwise they come from the
	// timeline model.
	Start  int64
	Finish int64

	// FastPath is true if the server was reported immediately
	// runnable and the timeline model was not consulted.
	FastPath bool
}

// candidate is the sortable ranking key for one evaluated server.
// Ascending lexicographic comparison over the fields in declaration
// order yields a strict total order for distinct (type, id) pairs.
type candidate struct {
	finish     int64
	start      int64
	costBias   float64
	totalCores int
	serverType string
	serverID   int
}

func (cand candidate) less(other candidate) bool {
	switch {
	case cand.finish != other.finish:
		return cand.finish < other.finish
	case cand.start != other.start:
		return cand.start < other.start
	case cand.costBias != other.costBias:
		return cand.costBias < other.costBias
	case cand.totalCores != other.totalCores:
		return cand.totalCores < other.totalCores
	case cand.serverType != other.serverType:
		return cand.serverType < other.serverType
	default:
		return cand.serverID < other.serverID
	}
}

// Choose picks the server to host the given job from the
// capability-filtered candidates.
//
// Fast path: a server reported immediately runnable (active/idle),
// with no queued jobs and enough live free cores, takes the job
// starting now; among several such servers the smallest total
// capacity wins, so small jobs don't tie up large servers.
//
// Otherwise every candidate is scored on its predicted timeline plus
// a boot penalty if it isn't running, and the minimum candidate tuple
// wins.
func (sch *Scheduler) Choose(now int64, job dsim.Job, candidates []dsim.ServerInstance) (Choice, error) {
	if len(candidates) == 0 {
		return Choice{}, ErrNoCandidates
	}
	if choice, ok := sch.chooseInstant(now, job, candidates); ok {
		return choice, nil
	}
	best := candidate{}
	first := true
	for _, srv := range candidates {
		cand := sch.evaluate(now, job, srv)
		if first || cand.less(best) {
			best = cand
			first = false
		}
	}
	sch.Logger.WithFields(logrus.Fields{
		"JobID":      job.ID,
		"ServerType": best.serverType,
		"ServerID":   best.serverID,
		"Start":      best.start,
		"Finish":     best.finish,
	}).Debug("planned placement")
	return Choice{
		ServerType: best.serverType,
		ServerID:   best.serverID,
		Start:      best.start,
		Finish:     best.finish,
	}, nil
}

// chooseInstant picks the smallest immediately runnable candidate, if
// any: reported active/idle, zero queued jobs, enough live free
// cores. It trusts the live report rather than the timeline model.
func (sch *Scheduler) chooseInstant(now int64, job dsim.Job, candidates []dsim.ServerInstance) (Choice, bool) {
	found := false
	var best dsim.ServerInstance
	var bestCores int
	for _, srv := range candidates {
		if !srv.State.Runnable() || srv.WaitingJobs != 0 || srv.Cores < job.Cores {
			continue
		}
		cores := sch.totalCores(srv)
		switch {
		case !found:
		case cores > bestCores:
			continue
		case cores == bestCores && srv.Type > best.Type:
			continue
		case cores == bestCores && srv.Type == best.Type && srv.ID > best.ID:
			continue
		}
		best, bestCores, found = srv, cores, true
	}
	if !found {
		return Choice{}, false
	}
	sch.Logger.WithFields(logrus.Fields{
		"JobID":      job.ID,
		"ServerType": best.Type,
		"ServerID":   best.ID,
	}).Debug("immediate placement")
	return Choice{
		ServerType: best.Type,
		ServerID:   best.ID,
		Start:      now,
		Finish:     now + job.EstRuntime,
		FastPath:   true,
	}, true
}

func (sch *Scheduler) evaluate(now int64, job dsim.Job, srv dsim.ServerInstance) candidate {
	tl := sch.Pool.Timeline(srv)
	start := tl.EarliestStart(now, job.Cores)
	if !srv.State.Runnable() {
		start += sch.bootPenalty(srv.Type)
	}
	var rate float64
	if st, ok := sch.Catalog.Lookup(srv.Type); ok {
		rate = st.HourlyRate
	}
	return candidate{
		finish:     start + job.EstRuntime,
		start:      start,
		costBias:   sch.CostBias * rate * float64(job.EstRuntime),
		totalCores: tl.TotalCores(),
		serverType: srv.Type,
		serverID:   srv.ID,
	}
}

// totalCores returns the server type's authoritative core count from
// the catalog, or the reported available cores as a proxy when the
// type is unknown.
func (sch *Scheduler) totalCores(srv dsim.ServerInstance) int {
	if st, ok := sch.Catalog.Lookup(srv.Type); ok {
		return st.Cores
	}
	return srv.Cores
}

func (sch *Scheduler) bootPenalty(serverType string) int64 {
	boot := sch.DefaultBootPenalty
	if st, ok := sch.Catalog.Lookup(serverType); ok {
		boot = st.BootupTime
	}
	if boot < 0 {
		boot = 0
	}
	return boot
}
