package rankio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_AllReduceMin(t *testing.T) {
	var c Local
	v, err := c.AllReduceMin(3.5)
	require.NoError(t, err)
	assert.Equal(t, 3.5, v)
}

func TestLocal_AllReduceSum(t *testing.T) {
	var c Local
	v, err := c.AllReduceSum([]float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, v)
}

func TestLocal_AllGather(t *testing.T) {
	var c Local
	v, err := c.AllGather(7.0)
	require.NoError(t, err)
	assert.Equal(t, []float64{7.0}, v)
}

func TestLocal_Barrier(t *testing.T) {
	var c Local
	assert.NoError(t, c.Barrier())
}

// PostBoundary/FetchBoundary round-trip: a pending fetch reports not-found
// until the matching post arrives, then delivers it exactly once.
func TestServer_PostFetchBoundary(t *testing.T) {
	s := NewServer(1)

	var reply FetchReply
	require.NoError(t, s.FetchBoundary(FetchRequest{SrcGid: 1, DstGid: 2, BufID: 0}, &reply))
	assert.False(t, reply.Found)

	msg := BoundaryMessage{SrcGid: 1, DstGid: 2, BufID: 0, Data: []float64{1, 2, 3}}
	require.NoError(t, s.PostBoundary(msg, &struct{}{}))

	var reply2 FetchReply
	require.NoError(t, s.FetchBoundary(FetchRequest{SrcGid: 1, DstGid: 2, BufID: 0}, &reply2))
	assert.True(t, reply2.Found)
	assert.Equal(t, msg.Data, reply2.Data)

	// A second fetch after delivery finds nothing: PostBoundary is
	// single-delivery, consumed by the first matching FetchBoundary.
	var reply3 FetchReply
	require.NoError(t, s.FetchBoundary(FetchRequest{SrcGid: 1, DstGid: 2, BufID: 0}, &reply3))
	assert.False(t, reply3.Found)
}

// Contribute with nranks=1 never blocks: a single contributor completes its
// own round immediately and sees exactly its own value back.
func TestServer_ContributeSingleRank(t *testing.T) {
	s := NewServer(1)
	var reply ContributeReply
	require.NoError(t, s.Contribute(ContributeRequest{Rank: 0, Round: 0, Value: []float64{42}}, &reply))
	require.Len(t, reply.Values, 1)
	assert.Equal(t, []float64{42}, reply.Values[0])
}
