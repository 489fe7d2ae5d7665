package facilitator

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The transport closes each connection after one exchange, so tests must
// not reuse connections.
func noKeepAliveClient() *http.Client {
	return &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
}

func TestTransportAnswersCannedJSON(t *testing.T) {
	transport, err := StartTransport("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer transport.Close()

	resp, err := noKeepAliveClient().Get(transport.URL())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var canned struct {
		Message string `json:"message"`
		URL     string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(body, &canned))
	assert.Equal(t, "Facilitator running", canned.Message)
	assert.Equal(t, transport.URL(), canned.URL)
}

func TestTransportEveryConnectionGetsSameAnswer(t *testing.T) {
	transport, err := StartTransport("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer transport.Close()

	client := noKeepAliveClient()
	var bodies []string
	for i := 0; i < 3; i++ {
		resp, err := client.Post(transport.URL()+"/verify", "application/json", nil)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		bodies = append(bodies, string(body))
	}
	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, bodies[1], bodies[2])
}
