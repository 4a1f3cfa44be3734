// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package dsim

import (
	"fmt"
	"strconv"
	"strings"
)

// State indicates the operational state a server instance reported in
// a GETS response row.
type State int

const (
	StateUnknown  State = iota // state string not recognized
	StateInactive              // powered off
	StateBooting               // powering on, not yet able to run jobs
	StateIdle                  // booted, nothing running
	StateActive                // running one or more jobs
)

var stateString = map[State]string{
	StateUnknown:  "unknown",
	StateInactive: "inactive",
	StateBooting:  "booting",
	StateIdle:     "idle",
	StateActive:   "active",
}

// String implements fmt.Stringer.
func (s State) String() string {
	return stateString[s]
}

// ParseState returns the State for a reported state string,
// StateUnknown if the string is not recognized.
func ParseState(s string) State {
	for st, str := range stateString {
		if str == strings.ToLower(s) {
			return st
		}
	}
	return StateUnknown
}

// Runnable reports whether a server in this state can begin executing
// a newly assigned job without waiting out a boot period.
func (s State) Runnable() bool {
	return s == StateActive || s == StateIdle
}

// ServerInstance is one concrete server as reported in a GETS
// response row. The fields reflect the remote system's live view at
// the moment of the query; instances are not retained between
// queries.
type ServerInstance struct {
	Type           string
	ID             int
	State          State
	StateStartTime int64

	// Available resources as reported, not totals.
	Cores  int
	Memory int
	Disk   int

	WaitingJobs int
	RunningJobs int
}

// parseServerInstance parses one GETS data row: type, id, state,
// state-start-time, cores, mem, disk, waiting jobs, running jobs.
func parseServerInstance(line string) (ServerInstance, error) {
	f := strings.Fields(line)
	if len(f) < 9 {
		return ServerInstance{}, fmt.Errorf("malformed server record %q", line)
	}
	var srv ServerInstance
	srv.Type = f[0]
	srv.State = ParseState(f[2])
	var err error
	for i, dst := range map[int]*int{1: &srv.ID, 4: &srv.Cores, 5: &srv.Memory, 6: &srv.Disk, 7: &srv.WaitingJobs, 8: &srv.RunningJobs} {
		*dst, err = strconv.Atoi(f[i])
		if err != nil {
			return ServerInstance{}, fmt.Errorf("malformed server record %q: %s", line, err)
		}
	}
	srv.StateStartTime, err = strconv.ParseInt(f[3], 10, 64)
	if err != nil {
		return ServerInstance{}, fmt.Errorf("malformed server record %q: %s", line, err)
	}
	return srv, nil
}
