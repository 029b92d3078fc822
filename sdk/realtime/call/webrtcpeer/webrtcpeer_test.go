package webrtcpeer

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeer_OfferAnswerRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	src := NewSource()
	f := NewFactory(nil)

	callerMedia, err := src.Acquire(ctx, true)
	require.NoError(t, err)
	defer callerMedia.Stop()
	caller, err := f.NewPeer(ctx, callerMedia)
	require.NoError(t, err)
	defer caller.Close()

	calleeMedia, err := src.Acquire(ctx, true)
	require.NoError(t, err)
	defer calleeMedia.Stop()
	callee, err := f.NewPeer(ctx, calleeMedia)
	require.NoError(t, err)
	defer callee.Close()

	offer, err := caller.CreateOffer(ctx)
	require.NoError(t, err)

	var desc struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}
	require.NoError(t, json.Unmarshal(offer, &desc))
	assert.Equal(t, "offer", desc.Type)
	assert.True(t, strings.Contains(desc.SDP, "m=audio"))
	assert.True(t, strings.Contains(desc.SDP, "m=video"))

	answer, err := callee.AcceptOffer(ctx, offer)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(answer, &desc))
	assert.Equal(t, "answer", desc.Type)

	require.NoError(t, caller.AcceptAnswer(ctx, answer))
}

func TestSource_AudioCallHasNoVideoTrack(t *testing.T) {
	m, err := NewSource().Acquire(context.Background(), false)
	require.NoError(t, err)

	tracks := m.(*Tracks)
	assert.False(t, tracks.HasVideo())
	assert.Len(t, tracks.all(), 1)
	assert.NoError(t, tracks.WriteVideo([]byte{1}, time.Millisecond), "writes to a missing track are dropped")
}

func TestPeer_RejectsGarbageSignal(t *testing.T) {
	ctx := context.Background()
	p, err := NewFactory(nil).NewPeer(ctx, nil)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.AcceptOffer(ctx, json.RawMessage(`"nope"`))
	assert.Error(t, err)
}
