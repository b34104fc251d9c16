package phoenix

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/massmux/zipzapd/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type daemonStub struct {
	mu       sync.Mutex
	body     string
	status   int
	lastAuth string
}

func (d *daemonStub) set(body string, status int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.body = body
	d.status = status
}

func (d *daemonStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastAuth = r.Header.Get("Authorization")
	w.WriteHeader(d.status)
	w.Write([]byte(d.body))
}

func newTestClient(t *testing.T, stub *daemonStub) *Client {
	t.Helper()
	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)
	client, err := NewClient(server.URL, "hunter2", server.Client())
	require.NoError(t, err)
	return client
}

func TestNewClient_FailsFastOnMissingConfig(t *testing.T) {
	_, err := NewClient("", "hunter2", nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ConfigurationError))

	_, err = NewClient("http://localhost:9740", "", nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CredentialsMissingError))
}

func TestClient_BasicAuthWithEmptyUsername(t *testing.T) {
	stub := &daemonStub{body: "[]", status: http.StatusOK}
	client := newTestClient(t, stub)

	_, err := client.FetchIncoming()
	require.NoError(t, err)
	expected := "Basic " + base64.StdEncoding.EncodeToString([]byte(":hunter2"))
	assert.Equal(t, expected, stub.lastAuth)
}

func TestClient_ClassifiesRejectedCredentials(t *testing.T) {
	stub := &daemonStub{body: "unauthorized", status: http.StatusUnauthorized}
	client := newTestClient(t, stub)

	_, err := client.FetchIncoming()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CredentialsMissingError))
}

func TestClient_ClassifiesServerError(t *testing.T) {
	stub := &daemonStub{body: "boom", status: http.StatusInternalServerError}
	client := newTestClient(t, stub)

	_, err := client.FetchIncoming()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.DaemonRequestError))
}

func TestPoller_RefreshMergesAndHydrates(t *testing.T) {
	stub := &daemonStub{status: http.StatusOK}
	stub.set(`[
		{"paymentHash":"aa","receivedSat":12,"isPaid":true},
		{"paymentHash":"bb","receivedSat":5,"isPaid":true}
	]`, http.StatusOK)
	client := newTestClient(t, stub)

	updates := 0
	poller := NewPoller(client,
		WithHydration(func(hash string) bool { return hash == "bb" }),
		WithUpdateHook(func() { updates++ }))

	require.NoError(t, poller.Refresh())
	snapshot := poller.Snapshot()
	require.Len(t, snapshot, 2)
	assert.False(t, snapshot[0].Processed)
	assert.True(t, snapshot[1].Processed, "bb restored from the durable store")
	assert.Equal(t, 1, updates)

	// a correlation pass marks aa; the next refresh must not lose that
	snapshot[0].Processed = true
	stub.set(`[
		{"paymentHash":"aa","receivedSat":20,"isPaid":true},
		{"paymentHash":"bb","receivedSat":5,"isPaid":true},
		{"paymentHash":"cc","receivedSat":1,"isPaid":false}
	]`, http.StatusOK)

	require.NoError(t, poller.Refresh())
	snapshot = poller.Snapshot()
	require.Len(t, snapshot, 3)
	assert.True(t, snapshot[0].Processed)
	assert.Equal(t, int64(20000), snapshot[0].AmountMillisats)
	assert.Equal(t, "cc", snapshot[2].PaymentHash)
	assert.Equal(t, StatusPending, snapshot[2].Status)
	assert.Equal(t, 2, updates)
}

func TestPoller_HashlessPaymentIsNotDuplicatedAcrossRefreshes(t *testing.T) {
	stub := &daemonStub{}
	stub.set(`[{"receivedSat":12,"isPaid":true,"payerNote":"note1qqqqqqqqqq thanks"}]`, http.StatusOK)
	client := newTestClient(t, stub)
	poller := NewPoller(client)

	require.NoError(t, poller.Refresh())
	require.NoError(t, poller.Refresh())

	snapshot := poller.Snapshot()
	require.Len(t, snapshot, 1, "the same hashless record must merge, not re-append")

	// a correlation pass settles it; the next refresh must still see
	// the same record, marked
	snapshot[0].Processed = true
	require.NoError(t, poller.Refresh())
	snapshot = poller.Snapshot()
	require.Len(t, snapshot, 1)
	assert.True(t, snapshot[0].Processed)
}

func TestPoller_RefreshErrorIsKeptAndCleared(t *testing.T) {
	stub := &daemonStub{}
	stub.set("boom", http.StatusInternalServerError)
	client := newTestClient(t, stub)
	poller := NewPoller(client)

	require.Error(t, poller.Refresh())
	assert.Error(t, poller.LastError())
	assert.Empty(t, poller.Snapshot())

	stub.set("[]", http.StatusOK)
	require.NoError(t, poller.Refresh())
	assert.NoError(t, poller.LastError())
}
