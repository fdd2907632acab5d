// Package tcpflow tracks TCP connections, reassembles each direction's byte
// stream and feeds HTTP/2 connections into the h2 inspector.
package tcpflow

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/gsambyal/h2inspect/h2"
	"github.com/gsambyal/h2inspect/http1"
)

// Packet is the TCP packet view the table consumes.
type Packet struct {
	SrcIP     string
	DstIP     string
	SrcPort   uint16
	DstPort   uint16
	Seq       uint32
	Ack       uint32
	SYN       bool
	ACK       bool
	FIN       bool
	RST       bool
	Payload   []byte
	Timestamp time.Time
}

// connState is the protocol gate of a connection.
type connState int

const (
	connUndetected connState = iota // waiting for enough client bytes
	connHTTP2                       // preface seen, engine attached
	connIgnored                     // not HTTP/2
	connClosed
)

// Conn is one tracked TCP connection.
type Conn struct {
	Key        string
	ClientAddr string
	ServerAddr string
	StartTime  time.Time
	LastSeen   time.Time

	state connState

	reasm [2]*Reassembler

	// pending holds each direction's bytes until the protocol gate decides
	// on the client bytes.
	pending [2][]byte

	flow *h2.Flow
	sink *http1.Inspector

	eofSent [2]bool
}

// Flow returns the engine state of an HTTP/2 connection, nil otherwise.
func (c *Conn) Flow() *h2.Flow { return c.flow }

// Sink returns the per-connection HTTP/1 message recorder, nil when the
// connection is not HTTP/2.
func (c *Conn) Sink() *http1.Inspector { return c.sink }

// IsHTTP2 reports whether the connection carries HTTP/2.
func (c *Conn) IsHTTP2() bool { return c.state == connHTTP2 || c.flow != nil }

// Table routes packets to connections and connections to the inspector.
// Packets of one connection must arrive from a single goroutine at a time;
// distinct connections may be processed in parallel.
type Table struct {
	inspector   *h2.Inspector
	gzipAllowed bool

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewTable creates a connection table feeding the given inspector.
func NewTable(inspector *h2.Inspector) *Table {
	return &Table{
		inspector:   inspector,
		gzipAllowed: inspector.Config().GzipAllowed,
		conns:       make(map[string]*Conn),
	}
}

// ConnKey normalizes the 4-tuple so both directions map to one connection.
func ConnKey(srcIP, dstIP string, srcPort, dstPort uint16) string {
	if srcIP < dstIP || (srcIP == dstIP && srcPort < dstPort) {
		return fmt.Sprintf("%s:%d-%s:%d", srcIP, srcPort, dstIP, dstPort)
	}
	return fmt.Sprintf("%s:%d-%s:%d", dstIP, dstPort, srcIP, srcPort)
}

// Process feeds one TCP packet through connection tracking, reassembly and,
// for HTTP/2 connections, the inspector.
func (t *Table) Process(pkt *Packet) {
	key := ConnKey(pkt.SrcIP, pkt.DstIP, pkt.SrcPort, pkt.DstPort)

	t.mu.Lock()
	conn, ok := t.conns[key]
	if !ok {
		conn = t.newConn(key, pkt)
		t.conns[key] = conn
	}
	t.mu.Unlock()

	if conn.state == connClosed {
		return
	}
	conn.LastSeen = pkt.Timestamp

	side := h2.SideClient
	if fmt.Sprintf("%s:%d", pkt.SrcIP, pkt.SrcPort) != conn.ClientAddr {
		side = h2.SideServer
	}

	if pkt.SYN {
		conn.reasm[side].SetNextSeq(pkt.Seq + 1)
	} else if len(pkt.Payload) > 0 {
		if data := conn.reasm[side].Add(pkt.Seq, pkt.Payload); len(data) > 0 {
			t.deliver(conn, side, data)
		}
	}

	if pkt.FIN || pkt.RST {
		t.finish(conn, side)
		if pkt.RST {
			t.finish(conn, side.Other())
			conn.state = connClosed
		}
	}
}

// newConn creates connection state, fixing the client side from the SYN
// direction or, mid-stream, from a server-port heuristic.
func (t *Table) newConn(key string, pkt *Packet) *Conn {
	srcAddr := fmt.Sprintf("%s:%d", pkt.SrcIP, pkt.SrcPort)
	dstAddr := fmt.Sprintf("%s:%d", pkt.DstIP, pkt.DstPort)
	clientAddr, serverAddr := srcAddr, dstAddr
	if !pkt.SYN && isLikelyServerPort(pkt.SrcPort) && !isLikelyServerPort(pkt.DstPort) {
		clientAddr, serverAddr = dstAddr, srcAddr
	}
	return &Conn{
		Key:        key,
		ClientAddr: clientAddr,
		ServerAddr: serverAddr,
		StartTime:  pkt.Timestamp,
		state:      connUndetected,
		reasm:      [2]*Reassembler{NewReassembler(), NewReassembler()},
	}
}

// deliver pushes reassembled bytes through the protocol gate and, once the
// connection is known to be HTTP/2, into the engine.
func (t *Table) deliver(conn *Conn, side h2.Side, data []byte) {
	switch conn.state {
	case connIgnored:
		return
	case connUndetected:
		conn.pending[side] = append(conn.pending[side], data...)
		client := conn.pending[h2.SideClient]
		if len(client) < len(h2.ConnectionPreface) {
			return
		}
		if !bytes.HasPrefix(client, h2.ConnectionPreface) {
			conn.state = connIgnored
			conn.pending[0], conn.pending[1] = nil, nil
			return
		}
		conn.state = connHTTP2
		conn.sink = http1.NewInspector(t.gzipAllowed)
		conn.flow = t.inspector.NewFlowTo(conn.sink)
		for s := h2.SideClient; s <= h2.SideServer; s++ {
			if len(conn.pending[s]) > 0 {
				t.inspector.OnSegment(conn.flow, s, conn.pending[s])
				conn.pending[s] = nil
			}
		}
	case connHTTP2:
		t.inspector.OnSegment(conn.flow, side, data)
	}
}

// finish signals end of stream for one direction of a connection.
func (t *Table) finish(conn *Conn, side h2.Side) {
	if conn.flow == nil || conn.eofSent[side] {
		return
	}
	conn.eofSent[side] = true
	t.inspector.OnEOF(conn.flow, side)
}

// Conns returns a snapshot of the tracked connections.
func (t *Table) Conns() []*Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Conn, 0, len(t.conns))
	for _, c := range t.conns {
		out = append(out, c)
	}
	return out
}

// Close signals EOF on every open connection. Engine state stays queryable
// until Destroy.
func (t *Table) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, conn := range t.conns {
		t.finish(conn, h2.SideClient)
		t.finish(conn, h2.SideServer)
	}
}

// Destroy tears down every flow and releases its accounting.
func (t *Table) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, conn := range t.conns {
		if conn.flow != nil {
			t.inspector.Destroy(conn.flow)
			conn.flow = nil
		}
	}
}

// isLikelyServerPort reports whether the port is a plausible server port for
// mid-stream direction guessing.
func isLikelyServerPort(port uint16) bool {
	if port < 1024 {
		return true
	}
	switch port {
	case 3000, 5000, 8000, 8080, 8443, 9000, 9090, 50051:
		return true
	}
	return false
}
