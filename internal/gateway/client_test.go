package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeResp struct {
	status int
	body   string
}

type fakeGatewayServer struct {
	srv           *httptest.Server
	agent         atomic.Value // fakeResp
	gotAuth       atomic.Value // string
	registerCalls atomic.Int64
	configCalls   atomic.Int64
	healthCalls   atomic.Int64
	measureCalls  atomic.Int64
	BaseURL       string
}

func newFakeGatewayServer(t *testing.T) *fakeGatewayServer {
	t.Helper()
	fs := &fakeGatewayServer{}
	fs.agent.Store(fakeResp{status: 200, body: `{"id":"agent-1","status":"active"}`})

	mux := http.NewServeMux()
	mux.HandleFunc("/agent-api/agent/register", func(w http.ResponseWriter, r *http.Request) {
		fs.gotAuth.Store(r.Header.Get("Authorization"))
		fs.registerCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/agent-api/agent/agent-1/config", func(w http.ResponseWriter, r *http.Request) {
		fs.configCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/agent-api/agent/agent-1/health", func(w http.ResponseWriter, r *http.Request) {
		fs.healthCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/agent-api/agent/agent-1/measurement/m1/status", func(w http.ResponseWriter, r *http.Request) {
		fs.measureCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/agent-api/agent/agent-1", func(w http.ResponseWriter, r *http.Request) {
		resp := fs.agent.Load().(fakeResp)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.status)
		if resp.body != "" {
			_, _ = w.Write([]byte(resp.body))
		}
	})

	fs.srv = httptest.NewServer(mux)
	fs.BaseURL = fs.srv.URL
	return fs
}

func (f *fakeGatewayServer) Close()                    { f.srv.Close() }
func (f *fakeGatewayServer) setAgent(status int, body string) { f.agent.Store(fakeResp{status: status, body: body}) }

func TestClient_GetAgent_OK(t *testing.T) {
	r := require.New(t)
	fs := newFakeGatewayServer(t)
	t.Cleanup(fs.Close)

	c := NewClient(nil, fs.BaseURL, "tok")
	info, status, err := c.GetAgent(context.Background(), "agent-1")
	r.NoError(err)
	r.Equal(200, status)
	r.Equal("agent-1", info.ID)
	r.Equal("active", info.Status)
}

func TestClient_GetAgent_NotFound(t *testing.T) {
	r := require.New(t)
	fs := newFakeGatewayServer(t)
	t.Cleanup(fs.Close)
	fs.setAgent(404, `{"error":"not found"}`)

	c := NewClient(nil, fs.BaseURL, "tok")
	_, status, err := c.GetAgent(context.Background(), "agent-1")
	r.Error(err)
	r.Equal(404, status)
}

func TestClient_RegisterAgent_SendsBearerToken(t *testing.T) {
	r := require.New(t)
	fs := newFakeGatewayServer(t)
	t.Cleanup(fs.Close)

	c := NewClient(nil, fs.BaseURL, "super-secret-token")
	status, err := c.RegisterAgent(context.Background(), "agent-1", "shared-secret")
	r.NoError(err)
	r.Equal(200, status)
	r.EqualValues(1, fs.registerCalls.Load())
	r.Equal("Bearer super-secret-token", fs.gotAuth.Load())
}

func TestClient_PostConfigHealthMeasurementStatus(t *testing.T) {
	r := require.New(t)
	fs := newFakeGatewayServer(t)
	t.Cleanup(fs.Close)

	c := NewClient(nil, fs.BaseURL, "tok")
	ctx := context.Background()

	_, err := c.PostConfig(ctx, "agent-1", ConfigRequest{Instances: []InstanceConfigPayload{{InstanceID: 1}}})
	r.NoError(err)
	_, err = c.PostHealth(ctx, "agent-1", HealthRequest{Healthy: true, LastCheck: "now"})
	r.NoError(err)
	_, err = c.PostMeasurementStatus(ctx, "agent-1", "m1", MeasurementStatusRequest{SentProbes: 10, IsComplete: true})
	r.NoError(err)

	r.EqualValues(1, fs.configCalls.Load())
	r.EqualValues(1, fs.healthCalls.Load())
	r.EqualValues(1, fs.measureCalls.Load())
}

func TestClient_UsesDefaultHTTPClientWhenNilGiven(t *testing.T) {
	r := require.New(t)
	fs := newFakeGatewayServer(t)
	t.Cleanup(fs.Close)

	c := NewClient(nil, fs.BaseURL, "tok").(*httpClient)
	r.NotNil(c.http)
	r.Equal(10*time.Second, c.http.Timeout)
}
