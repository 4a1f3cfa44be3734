// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package dispatch runs one scheduling session against a ds-sim
// server: it pumps the event loop and turns each job arrival into a
// placement decision.
package dispatch

import (
	"fmt"

	"git.arvados.org/dsched.git/lib/dispatch/scheduler"
	"git.arvados.org/dsched.git/lib/dispatch/timeline"
	"git.arvados.org/dsched.git/sdk/go/dsim"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type serverKey struct {
	Type string
	ID   int
}

// A dispatcher drives the protocol state machine for one session. All
// exchanges are strictly synchronous, so nothing here needs locking.
type dispatcher struct {
	Client   *dsim.Client
	Catalog  *dsim.Catalog
	Identity string
	Logger   logrus.FieldLogger
	Registry *prometheus.Registry

	CostBias           float64
	DefaultBootPenalty int64

	sched     *scheduler.Scheduler
	timelines map[serverKey]*timeline.Timeline

	mJobsDispatched   *prometheus.CounterVec
	mJobCompletions   prometheus.Counter
	mEventsIgnored    prometheus.Counter
	mCapabilityMisses prometheus.Counter
}

func (disp *dispatcher) initialize() {
	disp.timelines = map[serverKey]*timeline.Timeline{}
	disp.sched = &scheduler.Scheduler{
		Pool:               disp,
		Catalog:            disp.Catalog,
		CostBias:           disp.CostBias,
		DefaultBootPenalty: disp.DefaultBootPenalty,
		Logger:             disp.Logger,
	}
	if disp.Registry == nil {
		disp.Registry = prometheus.NewRegistry()
	}
	disp.registerMetrics(disp.Registry)
}

func (disp *dispatcher) registerMetrics(reg *prometheus.Registry) {
	disp.mJobsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dsched",
		Subsystem: "dispatch",
		Name:      "jobs_dispatched_total",
		Help:      "Number of jobs assigned to a server, by decision path.",
	}, []string{"path"})
	reg.MustRegister(disp.mJobsDispatched)
	disp.mJobCompletions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dsched",
		Subsystem: "dispatch",
		Name:      "job_completions_total",
		Help:      "Number of job completion events received.",
	})
	reg.MustRegister(disp.mJobCompletions)
	disp.mEventsIgnored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dsched",
		Subsystem: "dispatch",
		Name:      "events_ignored_total",
		Help:      "Number of events received that required no decision.",
	})
	reg.MustRegister(disp.mEventsIgnored)
	disp.mCapabilityMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dsched",
		Subsystem: "dispatch",
		Name:      "capability_widenings_total",
		Help:      "Number of jobs whose capability query returned no servers, requiring fallback to the full server list.",
	})
	reg.MustRegister(disp.mCapabilityMisses)
}

// Timeline returns the timeline model for the given server instance,
// creating it on first reference. Capacity comes from the catalog
// when the type is known, otherwise the live reported available cores
// serve as a proxy. Models are never destroyed during a session.
func (disp *dispatcher) Timeline(srv dsim.ServerInstance) *timeline.Timeline {
	key := serverKey{Type: srv.Type, ID: srv.ID}
	tl, ok := disp.timelines[key]
	if !ok {
		cores := srv.Cores
		if st, found := disp.Catalog.Lookup(srv.Type); found {
			cores = st.Cores
		}
		tl = timeline.New(cores)
		disp.timelines[key] = tl
	}
	return tl
}

// Run performs the handshake and processes events until the remote
// system signals there are none left. Any transport or protocol error
// aborts the session.
func (disp *dispatcher) Run() error {
	disp.initialize()
	if err := disp.Client.Handshake(disp.Identity); err != nil {
		return err
	}
	// Seed timeline models for every known server, so capacities
	// are fixed from catalog data before the first decision.
	servers, err := disp.Client.GetsAll()
	if err != nil {
		return err
	}
	for _, srv := range servers {
		disp.Timeline(srv)
	}
	disp.Logger.WithField("Servers", len(servers)).Info("session started")
	for {
		ev, err := disp.Client.NextEvent()
		if err != nil {
			return err
		}
		switch ev := ev.(type) {
		case dsim.JobEvent:
			if err := disp.dispatch(ev.Job); err != nil {
				return err
			}
		case dsim.CompletionEvent:
			disp.complete(ev)
		case dsim.NoneEvent:
			disp.Logger.Info("no more events")
			return disp.Client.Quit()
		case dsim.OtherEvent:
			disp.Logger.WithField("Event", ev.Line).Debug("ignoring event")
			disp.mEventsIgnored.Inc()
		}
	}
}

// dispatch chooses a server for one job, announces the decision, and
// records the predicted interval on the winner's timeline.
func (disp *dispatcher) dispatch(job dsim.Job) error {
	candidates, err := disp.Client.GetsCapable(job.Cores, job.Memory, job.Disk)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		// The remote system declared the job submittable, so
		// this should not happen; widen to the full list
		// rather than fail.
		disp.Logger.WithField("JobID", job.ID).Warn("no capable servers reported, considering all servers")
		disp.mCapabilityMisses.Inc()
		candidates, err = disp.Client.GetsAll()
		if err != nil {
			return err
		}
	}
	choice, err := disp.sched.Choose(job.SubmitTime, job, candidates)
	if err != nil {
		return fmt.Errorf("job %d: %s", job.ID, err)
	}
	if err := disp.Client.Schedule(job.ID, choice.ServerType, choice.ServerID); err != nil {
		return err
	}
	for _, srv := range candidates {
		if srv.Type == choice.ServerType && srv.ID == choice.ServerID {
			disp.Timeline(srv).AddJob(choice.Start, job.Cores, job.EstRuntime)
			break
		}
	}
	path := "planned"
	if choice.FastPath {
		path = "fast"
	}
	disp.mJobsDispatched.WithLabelValues(path).Inc()
	disp.Logger.WithFields(logrus.Fields{
		"JobID":      job.ID,
		"ServerType": choice.ServerType,
		"ServerID":   choice.ServerID,
		"Finish":     choice.Finish,
	}).Info("job dispatched")
	return nil
}

// complete prunes the originating server's timeline up to the
// completion time. A completion for a server with no tracked timeline
// is a no-op.
func (disp *dispatcher) complete(ev dsim.CompletionEvent) {
	disp.mJobCompletions.Inc()
	if tl, ok := disp.timelines[serverKey{Type: ev.ServerType, ID: ev.ServerID}]; ok {
		tl.PruneToTime(ev.Time)
	}
}
