// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package dsim

// Job is one unit of work submitted by the simulation, as announced
// in a JOBN event.
type Job struct {
	ID         int
	SubmitTime int64
	Cores      int
	Memory     int
	Disk       int
	EstRuntime int64
}
