// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package dsim

import (
	"bufio"
	"errors"
	"fmt"
	"net"

	"git.arvados.org/dsched.git/sdk/go/ctxlog"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&ClientSuite{})

type ClientSuite struct{}

// client returns a Client whose far end of a pipe runs a canned
// conversation: read one line, send the next canned responses,
// repeat.
func (*ClientSuite) client(c *check.C, conversation [][]string) *Client {
	clientConn, serverConn := net.Pipe()
	go func() {
		defer serverConn.Close()
		rdr := bufio.NewReader(serverConn)
		for _, responses := range conversation {
			if _, err := rdr.ReadString('\n'); err != nil {
				return
			}
			for _, resp := range responses {
				fmt.Fprintf(serverConn, "%s\n", resp)
			}
		}
	}()
	return NewClient(clientConn, ctxlog.TestLogger(c))
}

func (s *ClientSuite) TestHandshake(c *check.C) {
	client := s.client(c, [][]string{{"OK"}, {"OK"}})
	defer client.Close()
	c.Check(client.Handshake("tester"), check.IsNil)
}

func (s *ClientSuite) TestHandshakeRejected(c *check.C) {
	client := s.client(c, [][]string{{"NOPE"}})
	defer client.Close()
	err := client.Handshake("tester")
	c.Check(err, check.ErrorMatches, `protocol error: expected OK after HELO, got "NOPE"`)
	var perr ProtocolError
	c.Check(errors.As(err, &perr), check.Equals, true)
}

func (s *ClientSuite) TestGetsExchange(c *check.C) {
	client := s.client(c, [][]string{
		{"DATA 2"},
		{"small 0 idle 120 4 16000 64000 0 0", "big 3 inactive 0 8 32000 128000 2 1"},
		{"."},
	})
	defer client.Close()
	servers, err := client.GetsCapable(2, 500, 600)
	c.Assert(err, check.IsNil)
	c.Assert(servers, check.HasLen, 2)
	c.Check(servers[0], check.DeepEquals, ServerInstance{
		Type: "small", ID: 0, State: StateIdle, StateStartTime: 120,
		Cores: 4, Memory: 16000, Disk: 64000,
	})
	c.Check(servers[1].State, check.Equals, StateInactive)
	c.Check(servers[1].WaitingJobs, check.Equals, 2)
	c.Check(servers[1].RunningJobs, check.Equals, 1)
}

func (s *ClientSuite) TestGetsBadHeader(c *check.C) {
	client := s.client(c, [][]string{{"ERR no such option"}})
	defer client.Close()
	_, err := client.GetsAll()
	c.Check(err, check.ErrorMatches, `protocol error: expected DATA header .*`)
}

func (s *ClientSuite) TestGetsMissingTerminator(c *check.C) {
	client := s.client(c, [][]string{
		{"DATA 1"},
		{"small 0 idle 0 4 16000 64000 0 0"},
		{"EXTRA"},
	})
	defer client.Close()
	_, err := client.GetsAll()
	c.Check(err, check.ErrorMatches, `protocol error: expected terminator after "GETS All", got "EXTRA"`)
}

func (s *ClientSuite) TestGetsMalformedRow(c *check.C) {
	client := s.client(c, [][]string{
		{"DATA 1"},
		{"small zero idle 0 4 16000 64000 0 0"},
	})
	defer client.Close()
	_, err := client.GetsAll()
	c.Check(err, check.ErrorMatches, `protocol error: malformed server record .*`)
}

func (s *ClientSuite) TestNextEventJob(c *check.C) {
	client := s.client(c, [][]string{{"JOBN 12 480 4 2200 1200 7200"}})
	defer client.Close()
	ev, err := client.NextEvent()
	c.Assert(err, check.IsNil)
	c.Check(ev, check.DeepEquals, JobEvent{Job: Job{
		ID: 12, SubmitTime: 480, Cores: 4, Memory: 2200, Disk: 1200, EstRuntime: 7200,
	}})
}

func (s *ClientSuite) TestNextEventCompletion(c *check.C) {
	client := s.client(c, [][]string{{"JCPL 520 12 small 1"}})
	defer client.Close()
	ev, err := client.NextEvent()
	c.Assert(err, check.IsNil)
	c.Check(ev, check.DeepEquals, CompletionEvent{
		Time: 520, JobID: 12, ServerType: "small", ServerID: 1,
	})
}

func (s *ClientSuite) TestNextEventNoneAndOther(c *check.C) {
	client := s.client(c, [][]string{{"RESF small 0 321"}, {"NONE"}})
	defer client.Close()
	ev, err := client.NextEvent()
	c.Assert(err, check.IsNil)
	c.Check(ev, check.DeepEquals, OtherEvent{Kind: "RESF", Line: "RESF small 0 321"})
	ev, err = client.NextEvent()
	c.Assert(err, check.IsNil)
	c.Check(ev, check.DeepEquals, NoneEvent{})
}

func (s *ClientSuite) TestServerClosesEarly(c *check.C) {
	client := s.client(c, nil)
	defer client.Close()
	_, err := client.NextEvent()
	c.Check(err, check.NotNil)
}

func (s *ClientSuite) TestParseState(c *check.C) {
	c.Check(ParseState("active"), check.Equals, StateActive)
	c.Check(ParseState("Idle"), check.Equals, StateIdle)
	c.Check(ParseState("booting"), check.Equals, StateBooting)
	c.Check(ParseState("inactive"), check.Equals, StateInactive)
	c.Check(ParseState("wedged"), check.Equals, StateUnknown)
	c.Check(StateActive.Runnable(), check.Equals, true)
	c.Check(StateIdle.Runnable(), check.Equals, true)
	c.Check(StateBooting.Runnable(), check.Equals, false)
	c.Check(StateInactive.Runnable(), check.Equals, false)
}
