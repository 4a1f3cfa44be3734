// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package dsim is a client for the ds-sim cluster simulation
// protocol: a line-oriented text protocol in which the client drives
// a strictly synchronous sequence of request/response exchanges.
package dsim

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// ProtocolError indicates the remote system broke the protocol
// contract (unexpected header tag, missing acknowledgment or
// terminator). It is fatal for the session.
type ProtocolError struct {
	msg string
}

func (e ProtocolError) Error() string {
	return "protocol error: " + e.msg
}

func protocolErrorf(format string, args ...interface{}) error {
	return ProtocolError{msg: fmt.Sprintf(format, args...)}
}

// An Event is the remote system's response to a REDY message. The
// concrete type is JobEvent, CompletionEvent, NoneEvent, or
// OtherEvent.
type Event interface {
	eventKind() string
}

// JobEvent announces a newly submitted job (JOBN).
type JobEvent struct {
	Job Job
}

// CompletionEvent announces that a job finished on a server (JCPL).
type CompletionEvent struct {
	Time       int64
	JobID      int
	ServerType string
	ServerID   int
}

// NoneEvent indicates there are no more events (NONE); the client
// should quit.
type NoneEvent struct{}

// OtherEvent is any event kind the client does not act on. The
// payload is preserved for logging only.
type OtherEvent struct {
	Kind string
	Line string
}

func (JobEvent) eventKind() string        { return "JOBN" }
func (CompletionEvent) eventKind() string { return "JCPL" }
func (NoneEvent) eventKind() string       { return "NONE" }
func (ev OtherEvent) eventKind() string   { return ev.Kind }

// Client is a connection to a ds-sim server. It is not safe for
// concurrent use; the protocol itself admits only one exchange at a
// time.
type Client struct {
	conn   io.ReadWriteCloser
	r      *bufio.Reader
	logger logrus.FieldLogger
}

// Dial connects to the simulation server at the given host:port
// address.
func Dial(address string, logger logrus.FieldLogger) (*Client, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %s", address, err)
	}
	return NewClient(conn, logger), nil
}

// NewClient returns a Client speaking the protocol over an existing
// connection.
func NewClient(conn io.ReadWriteCloser, logger logrus.FieldLogger) *Client {
	return &Client{
		conn:   conn,
		r:      bufio.NewReader(conn),
		logger: logger,
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) send(line string) error {
	c.logger.WithField("Line", line).Debug("send")
	_, err := io.WriteString(c.conn, line+"\n")
	if err != nil {
		return fmt.Errorf("send %q: %s", line, err)
	}
	return nil
}

func (c *Client) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read: server closed connection: %s", err)
	}
	line = strings.TrimRight(line, "\n")
	c.logger.WithField("Line", line).Debug("recv")
	return line, nil
}

func (c *Client) expectOK(context string) error {
	line, err := c.readLine()
	if err != nil {
		return err
	}
	if line != "OK" {
		return protocolErrorf("expected OK after %s, got %q", context, line)
	}
	return nil
}

// Handshake identifies and authenticates the client. Either exchange
// failing is fatal for the session.
func (c *Client) Handshake(identity string) error {
	if err := c.send("HELO"); err != nil {
		return err
	}
	if err := c.expectOK("HELO"); err != nil {
		return err
	}
	if err := c.send("AUTH " + identity); err != nil {
		return err
	}
	return c.expectOK("AUTH")
}

// NextEvent announces readiness (REDY) and returns the next event.
func (c *Client) NextEvent() (Event, error) {
	if err := c.send("REDY"); err != nil {
		return nil, err
	}
	line, err := c.readLine()
	if err != nil {
		return nil, err
	}
	f := strings.Fields(line)
	if len(f) == 0 {
		return nil, protocolErrorf("empty event line")
	}
	switch f[0] {
	case "JOBN":
		if len(f) < 7 {
			return nil, protocolErrorf("malformed JOBN %q", line)
		}
		var job Job
		var bad error
		atoi := func(s string) int {
			n, err := strconv.Atoi(s)
			if err != nil && bad == nil {
				bad = err
			}
			return n
		}
		job.ID = atoi(f[1])
		job.SubmitTime = int64(atoi(f[2]))
		job.Cores = atoi(f[3])
		job.Memory = atoi(f[4])
		job.Disk = atoi(f[5])
		job.EstRuntime = int64(atoi(f[6]))
		if bad != nil {
			return nil, protocolErrorf("malformed JOBN %q: %s", line, bad)
		}
		return JobEvent{Job: job}, nil
	case "JCPL":
		if len(f) < 5 {
			return nil, protocolErrorf("malformed JCPL %q", line)
		}
		t, err1 := strconv.ParseInt(f[1], 10, 64)
		jobID, err2 := strconv.Atoi(f[2])
		serverID, err3 := strconv.Atoi(f[4])
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, protocolErrorf("malformed JCPL %q", line)
		}
		return CompletionEvent{Time: t, JobID: jobID, ServerType: f[3], ServerID: serverID}, nil
	case "NONE":
		return NoneEvent{}, nil
	default:
		return OtherEvent{Kind: f[0], Line: line}, nil
	}
}

// GetsAll requests the full server list.
func (c *Client) GetsAll() ([]ServerInstance, error) {
	return c.gets("GETS All")
}

// GetsCapable requests the servers able to host the given resource
// demand, as determined by the remote system.
func (c *Client) GetsCapable(cores, mem, disk int) ([]ServerInstance, error) {
	return c.gets(fmt.Sprintf("GETS Capable %d %d %d", cores, mem, disk))
}

func (c *Client) gets(request string) ([]ServerInstance, error) {
	if err := c.send(request); err != nil {
		return nil, err
	}
	header, err := c.readLine()
	if err != nil {
		return nil, err
	}
	f := strings.Fields(header)
	if len(f) != 2 || f[0] != "DATA" {
		return nil, protocolErrorf("expected DATA header after %q, got %q", request, header)
	}
	n, err := strconv.Atoi(f[1])
	if err != nil || n < 0 {
		return nil, protocolErrorf("bad DATA count in %q", header)
	}
	if err := c.send("OK"); err != nil {
		return nil, err
	}
	servers := make([]ServerInstance, 0, n)
	for i := 0; i < n; i++ {
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}
		srv, err := parseServerInstance(line)
		if err != nil {
			return nil, ProtocolError{msg: err.Error()}
		}
		servers = append(servers, srv)
	}
	if err := c.send("OK"); err != nil {
		return nil, err
	}
	term, err := c.readLine()
	if err != nil {
		return nil, err
	}
	if term != "." {
		return nil, protocolErrorf("expected terminator after %q, got %q", request, term)
	}
	return servers, nil
}

// Schedule assigns a job to a server instance.
func (c *Client) Schedule(jobID int, serverType string, serverID int) error {
	if err := c.send(fmt.Sprintf("SCHD %d %s %d", jobID, serverType, serverID)); err != nil {
		return err
	}
	return c.expectOK("SCHD")
}

// Quit ends the session. The final acknowledgment line is consumed
// and discarded.
func (c *Client) Quit() error {
	if err := c.send("QUIT"); err != nil {
		return err
	}
	_, err := c.readLine()
	return err
}
