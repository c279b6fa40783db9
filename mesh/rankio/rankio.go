// Package rankio implements the cross-rank transport named in the mesh
// package's design note: point-to-point boundary buffer exchange and the
// allreduce/allgather collectives, as a small net/rpc layer grounded
// directly on the teacher's own worker pattern (net/rpc server per
// process, net.Listen + http.Serve), since this is a non-MPI Go rebuild
// of an MPI-style system.
package rankio

import (
	"fmt"
	"net"
	"net/http"
	"net/rpc"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
)

// BoundaryMessage is one point-to-point boundary buffer transfer, keyed by
// the sending block's global id and the receiving neighbor's buffer id.
type BoundaryMessage struct {
	SrcGid, DstGid int
	BufID          int
	Data           []float64
}

// Server exposes PostBoundary/FetchBoundary for point-to-point exchange
// and Contribute for a barrier-based allreduce/allgather, mirroring
// the teacher's sr.Worker: register with net/rpc, listen with
// net.Listen+http.Serve.
type Server struct {
	mu       sync.Mutex
	inbox    map[string]BoundaryMessage
	barrier  *barrierState
	listener net.Listener
}

type barrierState struct {
	mu       sync.Mutex
	cond     *sync.Cond
	nranks   int
	round    int
	values   [][]float64
	received int
}

func newBarrierState(nranks int) *barrierState {
	b := &barrierState{nranks: nranks, values: make([][]float64, nranks)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// NewServer constructs a Server for a deployment of nranks processes.
func NewServer(nranks int) *Server {
	return &Server{inbox: make(map[string]BoundaryMessage), barrier: newBarrierState(nranks)}
}

func inboxKey(srcGid, dstGid, bufID int) string {
	return fmt.Sprintf("%d:%d:%d", srcGid, dstGid, bufID)
}

// PostBoundary is the RPC entry point a sender calls on the receiver's
// rank to deliver one packed boundary buffer.
func (s *Server) PostBoundary(msg BoundaryMessage, _ *struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox[inboxKey(msg.SrcGid, msg.DstGid, msg.BufID)] = msg
	return nil
}

// FetchBoundary is the RPC entry point a receiver polls; it reports
// found=false (not an error) until the matching PostBoundary has arrived,
// which is how TaskList tasks observe IN_PROGRESS vs COMPLETE.
type FetchRequest struct{ SrcGid, DstGid, BufID int }
type FetchReply struct {
	Found bool
	Data  []float64
}

func (s *Server) FetchBoundary(req FetchRequest, reply *FetchReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := inboxKey(req.SrcGid, req.DstGid, req.BufID)
	msg, ok := s.inbox[key]
	if !ok {
		reply.Found = false
		return nil
	}
	delete(s.inbox, key)
	reply.Found = true
	reply.Data = msg.Data
	return nil
}

// ContributeRequest/ContributeReply implement a simple barrier-based
// all-to-all: every rank contributes its value for the current round and
// blocks until all nranks have contributed, then receives every rank's
// value.
type ContributeRequest struct {
	Rank  int
	Round int
	Value []float64
}
type ContributeReply struct {
	Values [][]float64
}

func (s *Server) Contribute(req ContributeRequest, reply *ContributeReply) error {
	b := s.barrier
	b.mu.Lock()
	defer b.mu.Unlock()
	for req.Round != b.round {
		b.cond.Wait()
	}
	b.values[req.Rank] = req.Value
	b.received++
	if b.received == b.nranks {
		b.round++
		b.received = 0
		b.cond.Broadcast()
	} else {
		for b.round == req.Round {
			b.cond.Wait()
		}
	}
	out := make([][]float64, len(b.values))
	copy(out, b.values)
	reply.Values = out
	return nil
}

// Listen registers s and serves RPC over HTTP on addr, following the
// teacher's Worker.Listen (rpc.Register + rpc.HandleHTTP + net.Listen +
// http.Serve).
func (s *Server) Listen(addr string) error {
	if err := rpc.Register(s); err != nil {
		return err
	}
	rpc.HandleHTTP()
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = l
	return http.Serve(l, nil)
}

func (s *Server) Close() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Peers is the client side: one dialed connection per peer rank, with
// exponential-backoff dial retry (the teacher's own dependency,
// github.com/cenkalti/backoff, repurposed here for RPC dial retry instead
// of the HTTP request retry it backs in the original).
type Peers struct {
	Rank    int
	clients map[int]*rpc.Client
	addrs   map[int]string
	mu      sync.Mutex
	round   int
}

// NewPeers constructs a client set; addrs maps rank -> "host:port".
func NewPeers(rank int, addrs map[int]string) *Peers {
	return &Peers{Rank: rank, addrs: addrs, clients: make(map[int]*rpc.Client)}
}

func (p *Peers) dial(rank int) (*rpc.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[rank]; ok {
		return c, nil
	}
	addr, ok := p.addrs[rank]
	if !ok {
		return nil, fmt.Errorf("rankio: no address known for rank %d", rank)
	}
	var client *rpc.Client
	op := func() error {
		c, err := rpc.DialHTTP("tcp", addr)
		if err != nil {
			return err
		}
		client = c
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("rankio: dialing rank %d at %s: %w", rank, addr, err)
	}
	p.clients[rank] = client
	return client, nil
}

// SendBoundary delivers one packed buffer to the block gid on rank
// destRank.
func (p *Peers) SendBoundary(destRank int, msg BoundaryMessage) error {
	c, err := p.dial(destRank)
	if err != nil {
		return err
	}
	return c.Call("Server.PostBoundary", msg, &struct{}{})
}

// RecvBoundary polls rank srcRank for a boundary buffer; ok is false
// (not an error) while the task should remain suspended.
func (p *Peers) RecvBoundary(srcRank, srcGid, dstGid, bufID int) (data []float64, ok bool, err error) {
	c, derr := p.dial(srcRank)
	if derr != nil {
		return nil, false, derr
	}
	var reply FetchReply
	if err := c.Call("Server.FetchBoundary", FetchRequest{SrcGid: srcGid, DstGid: dstGid, BufID: bufID}, &reply); err != nil {
		return nil, false, err
	}
	return reply.Data, reply.Found, nil
}

// AllReduceMin/AllReduceSum/AllGather/Barrier implement mesh.Collective by
// sending every rank's value to rank 0's Server.Contribute, whose barrier
// waits for all nranks contributions and returns them all; each rank then
// reduces the returned values locally. Every rank's Peers must therefore
// know rank 0's address.
func (p *Peers) contributeAll(value []float64) ([][]float64, error) {
	p.mu.Lock()
	round := p.round
	p.round++
	p.mu.Unlock()

	c, err := p.dial(0)
	if err != nil {
		return nil, err
	}
	var reply ContributeReply
	if err := c.Call("Server.Contribute", ContributeRequest{Rank: p.Rank, Round: round, Value: value}, &reply); err != nil {
		return nil, err
	}
	return reply.Values, nil
}

func (p *Peers) AllReduceMin(v float64) (float64, error) {
	values, err := p.contributeAll([]float64{v})
	if err != nil {
		return 0, err
	}
	min := v
	for _, vals := range values {
		if len(vals) > 0 && vals[0] < min {
			min = vals[0]
		}
	}
	return min, nil
}

func (p *Peers) AllReduceSum(v []float64) ([]float64, error) {
	values, err := p.contributeAll(v)
	if err != nil {
		return nil, err
	}
	sum := make([]float64, len(v))
	for _, vals := range values {
		for i := range sum {
			if i < len(vals) {
				sum[i] += vals[i]
			}
		}
	}
	return sum, nil
}

func (p *Peers) AllGather(v float64) ([]float64, error) {
	values, err := p.contributeAll([]float64{v})
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, vals := range values {
		if len(vals) > 0 {
			out[i] = vals[0]
		}
	}
	return out, nil
}

func (p *Peers) Barrier() error {
	_, err := p.contributeAll(nil)
	return err
}

// Local is a single-process mesh.Collective used by tests and
// single-rank runs: every "reduction" is a no-op over one contributor.
type Local struct{}

func (Local) AllReduceMin(v float64) (float64, error)     { return v, nil }
func (Local) AllReduceSum(v []float64) ([]float64, error) { return v, nil }
func (Local) AllGather(v float64) ([]float64, error)      { return []float64{v}, nil }
func (Local) Barrier() error                              { return nil }
