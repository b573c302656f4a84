package permission

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decision struct {
	requestID string
	optionID  *string
}

type recordingResponder struct {
	calls []decision
	err   error
}

func (r *recordingResponder) RespondPermission(requestID string, optionID *string) error {
	r.calls = append(r.calls, decision{requestID: requestID, optionID: optionID})
	return r.err
}

func req(id string) Request {
	return Request{
		RequestID:  id,
		SessionID:  "sess-1",
		ToolCallID: "tool-" + id,
		Options: []Option{
			{OptionID: "allow", Name: "Allow", Kind: "allow_once"},
			{OptionID: "reject", Name: "Reject", Kind: "reject_once"},
		},
	}
}

func ids(reqs []Request) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.RequestID
	}
	return out
}

func strPtr(s string) *string { return &s }

func TestArbiter_FIFO(t *testing.T) {
	a := NewArbiter(nil)

	_, ok := a.Current()
	assert.False(t, ok)

	a.Enqueue(req("r1"))
	a.Enqueue(req("r2"))
	a.Enqueue(req("r3"))

	head, ok := a.Current()
	require.True(t, ok)
	assert.Equal(t, "r1", head.RequestID)
	assert.Equal(t, []string{"r1", "r2", "r3"}, ids(a.Pending()))
}

func TestArbiter_Respond(t *testing.T) {
	t.Run("dismiss without option cancels and removes head", func(t *testing.T) {
		resp := &recordingResponder{}
		a := NewArbiter(resp)
		a.Enqueue(req("r1"))
		a.Enqueue(req("r2"))
		a.Enqueue(req("r3"))

		require.NoError(t, a.Respond("r1", nil))

		assert.Equal(t, []string{"r2", "r3"}, ids(a.Pending()))
		require.Len(t, resp.calls, 1)
		assert.Equal(t, "r1", resp.calls[0].requestID)
		assert.Nil(t, resp.calls[0].optionID)
	})

	t.Run("removes from the middle preserving order", func(t *testing.T) {
		resp := &recordingResponder{}
		a := NewArbiter(resp)
		a.Enqueue(req("r1"))
		a.Enqueue(req("r2"))
		a.Enqueue(req("r3"))

		require.NoError(t, a.Respond("r2", strPtr("allow")))

		assert.Equal(t, []string{"r1", "r3"}, ids(a.Pending()))
		require.Len(t, resp.calls, 1)
		require.NotNil(t, resp.calls[0].optionID)
		assert.Equal(t, "allow", *resp.calls[0].optionID)
	})

	t.Run("unknown request", func(t *testing.T) {
		resp := &recordingResponder{}
		a := NewArbiter(resp)
		a.Enqueue(req("r1"))

		err := a.Respond("nope", nil)
		assert.ErrorIs(t, err, ErrUnknownRequest)
		assert.Equal(t, 1, a.Len())
		assert.Empty(t, resp.calls)
	})

	t.Run("option not offered is sent as cancel", func(t *testing.T) {
		resp := &recordingResponder{}
		a := NewArbiter(resp)
		a.Enqueue(req("r1"))

		require.NoError(t, a.Respond("r1", strPtr("allow_always")))
		require.Len(t, resp.calls, 1)
		assert.Nil(t, resp.calls[0].optionID)
	})

	t.Run("forward failure still removes entry", func(t *testing.T) {
		resp := &recordingResponder{err: errors.New("agent gone")}
		a := NewArbiter(resp)
		a.Enqueue(req("r1"))

		err := a.Respond("r1", strPtr("allow"))
		assert.Error(t, err)
		assert.Zero(t, a.Len())
	})
}

func TestArbiter_Clear(t *testing.T) {
	resp := &recordingResponder{}
	a := NewArbiter(resp)
	a.Enqueue(req("r1"))
	a.Enqueue(req("r2"))

	assert.Equal(t, 2, a.Clear())
	_, ok := a.Current()
	assert.False(t, ok)
	assert.Empty(t, resp.calls, "clear must not answer the agent")
}

func TestArbiter_CancelAll(t *testing.T) {
	t.Run("every dropped request is cancelled in order", func(t *testing.T) {
		resp := &recordingResponder{}
		a := NewArbiter(resp)
		a.Enqueue(req("r1"))
		a.Enqueue(req("r2"))

		dropped := a.CancelAll()

		assert.Equal(t, []string{"r1", "r2"}, ids(dropped))
		assert.Zero(t, a.Len())
		require.Len(t, resp.calls, 2)
		assert.Equal(t, "r1", resp.calls[0].requestID)
		assert.Nil(t, resp.calls[0].optionID)
		assert.Equal(t, "r2", resp.calls[1].requestID)
		assert.Nil(t, resp.calls[1].optionID)
	})

	t.Run("forwarding errors do not stop the drain", func(t *testing.T) {
		resp := &recordingResponder{err: ErrUnknownRequest}
		a := NewArbiter(resp)
		a.Enqueue(req("r1"))
		a.Enqueue(req("r2"))

		assert.Len(t, a.CancelAll(), 2)
		assert.Len(t, resp.calls, 2)
		assert.Zero(t, a.Len())
	})

	t.Run("empty queue", func(t *testing.T) {
		assert.Empty(t, NewArbiter(nil).CancelAll())
	})
}
