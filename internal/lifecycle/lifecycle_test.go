package lifecycle

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	assert.Equal(t, Message{Type: SkipWaiting}, ParseMessage([]byte(`{"type":"SKIP_WAITING"}`)))
	assert.True(t, ParseMessage([]byte(`{"type":"SKIP_WAITING"}`)).Known())
	assert.False(t, ParseMessage([]byte(`{"type":"RELOAD"}`)).Known())
	assert.False(t, ParseMessage([]byte(`not json`)).Known())
	assert.False(t, ParseMessage(nil).Known())
}

func TestEnvelopeRoundTrip(t *testing.T) {
	for _, n := range []Notification{
		WaitingInstalled{WorkerID: 2, Generation: "g2"},
		ControllerChanged{WorkerID: 2, Generation: "g2"},
	} {
		got, err := Wrap(n).Unwrap()
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}

	_, err := Envelope{Kind: "bogus"}.Unwrap()
	assert.Error(t, err)
}

func TestStateText(t *testing.T) {
	b, err := json.Marshal(map[string]State{"s": Waiting})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"waiting"}`, string(b))

	var out map[string]State
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, Waiting, out["s"])

	var s State
	assert.Error(t, s.UnmarshalText([]byte("sleeping")))
}
