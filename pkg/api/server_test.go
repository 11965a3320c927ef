package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryhq/gantry/pkg/config"
	"github.com/gantryhq/gantry/pkg/coordination"
	"github.com/gantryhq/gantry/pkg/events"
	"github.com/gantryhq/gantry/pkg/intake"
	"github.com/gantryhq/gantry/pkg/orchestrator"
	"github.com/gantryhq/gantry/pkg/storage"
	"github.com/gantryhq/gantry/pkg/types"
)

type stubImages struct{ name string }

func (s *stubImages) ImageName(context.Context, string) (string, error) {
	return s.name, nil
}

type stubProps struct{}

func (stubProps) Properties(context.Context, string, string) (*intake.Properties, error) {
	return &intake.Properties{Parameters: types.Parameters{}}, nil
}

type idleEngine struct{}

func (idleEngine) Start(*types.Deployment)   {}
func (idleEngine) Recover(*types.Deployment) {}
func (idleEngine) Resume(string) error       { return nil }

type fixture struct {
	base   string
	images *stubImages
	store  storage.Store
	coord  *coordination.Coordinator
	queue  *coordination.Queue
	broker *events.Broker
	rdb    *redis.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "deployments.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mr := miniredis.RunT(t)
	rdb := coordination.Dial(coordination.Config{Address: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	coord := coordination.New(rdb, "gantry")
	queue := coordination.NewQueue(rdb, "gantry", coordination.QueueOptions{})
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	images := &stubImages{name: "accounts-1.2.3-h42"}
	deploy := config.DeployConfig{
		Environments: map[string]config.EnvironmentConfig{"poke": {}},
	}
	in := intake.New(store, coord, queue, images, stubProps{}, deploy, broker)
	orch := orchestrator.New(store, coord, queue, idleEngine{}, broker)

	server := New(in, orch, store, coord, broker, "test")
	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)

	return &fixture{
		base:   srv.URL,
		images: images,
		store:  store,
		coord:  coord,
		queue:  queue,
		broker: broker,
		rdb:    rdb,
	}
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.base + path)
	require.NoError(t, err)
	return resp
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	resp, err := http.Post(f.base+path, "application/json", &buf)
	require.NoError(t, err)
	return resp
}

func (f *fixture) delete(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, f.base+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func deployBody() map[string]any {
	return map[string]any{
		"environment": "poke",
		"region":      "eu-west-1",
		"ami":         "ami-00aa11bb",
		"user":        "jane",
		"message":     "weekly rollout",
	}
}

func TestPing(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/ping")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "pong", buf.String())
}

func TestStatusDocument(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[statusResponse](t, resp)
	assert.Equal(t, statusResponse{Name: "gantry", Version: "test", Status: "ok"}, body)
}

func TestDeployAcceptedAndReadable(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/accounts/deploy", deployBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	accepted := decode[deployAccepted](t, resp)
	require.NotEmpty(t, accepted.ID)

	read := f.get(t, "/deployments/"+accepted.ID)
	require.Equal(t, http.StatusOK, read.StatusCode)
	doc := decode[types.Deployment](t, read)
	assert.Equal(t, "accounts", doc.Application)
	assert.Equal(t, "jane", doc.User)
	assert.Len(t, doc.Tasks, 6)

	length, err := f.queue.Length(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
}

func TestDeployRefusals(t *testing.T) {
	t.Run("malformed body", func(t *testing.T) {
		f := newFixture(t)
		resp, err := http.Post(f.base+"/accounts/deploy", "application/json", strings.NewReader("{not json"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		body := decode[errorResponse](t, resp)
		assert.Equal(t, "validation", body.Kind)
	})

	t.Run("missing fields", func(t *testing.T) {
		f := newFixture(t)
		body := deployBody()
		delete(body, "ami")
		resp := f.post(t, "/accounts/deploy", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		refused := decode[errorResponse](t, resp)
		assert.Equal(t, "validation", refused.Kind)
		assert.Contains(t, refused.Error, "ami")
	})

	t.Run("locked", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.coord.Lock(context.Background()))
		resp := f.post(t, "/accounts/deploy", deployBody())
		assert.Equal(t, http.StatusLocked, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("target busy", func(t *testing.T) {
		f := newFixture(t)
		running := &types.Deployment{ID: "running-1", Application: "accounts", Environment: "poke", Region: "eu-west-1"}
		registered, err := f.coord.RegisterDeployment(context.Background(), running)
		require.NoError(t, err)
		require.True(t, registered)

		resp := f.post(t, "/accounts/deploy", deployBody())
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		refused := decode[errorResponse](t, resp)
		assert.Equal(t, "already-in-progress", refused.Kind)
		assert.Contains(t, refused.Error, "running-1")
	})

	t.Run("foreign image", func(t *testing.T) {
		f := newFixture(t)
		f.images.name = "payments-4.5.6-h99"
		resp := f.post(t, "/accounts/deploy", deployBody())
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		refused := decode[errorResponse](t, resp)
		assert.Equal(t, "image-mismatch", refused.Kind)
	})
}

func TestGetDeploymentNotFound(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/deployments/no-such-id")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListDeploymentFilters(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	finished := &types.Deployment{
		ID: "finished-1", Application: "accounts", Environment: "poke", Region: "eu-west-1",
		Tasks: []types.Task{{ID: "t1", Action: types.ActionCreateASG, Status: types.TaskCompleted}},
		Created: now.Add(-2 * time.Hour), Start: &now, End: &now,
	}
	require.NoError(t, f.store.SaveDeployment(finished))

	// started, unfinished, and holding no in-progress record: broken
	stranded := &types.Deployment{
		ID: "stranded-1", Application: "billing", Environment: "poke", Region: "eu-west-1",
		Tasks:   types.StandardTasks(),
		Created: now.Add(-time.Hour), Start: &now,
	}
	require.NoError(t, f.store.SaveDeployment(stranded))

	all := decode[[]*types.Deployment](t, f.get(t, "/deployments"))
	assert.Len(t, all, 2)

	incomplete := decode[[]*types.Deployment](t, f.get(t, "/deployments?filter=incomplete"))
	require.Len(t, incomplete, 1)
	assert.Equal(t, "stranded-1", incomplete[0].ID)

	broken := decode[[]*types.Deployment](t, f.get(t, "/deployments?filter=broken"))
	require.Len(t, broken, 1)
	assert.Equal(t, "stranded-1", broken[0].ID)

	byApp := decode[[]*types.Deployment](t, f.get(t, "/deployments?application=accounts"))
	require.Len(t, byApp, 1)
	assert.Equal(t, "finished-1", byApp[0].ID)

	resp := f.get(t, "/deployments?filter=bogus")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOperatorVerbs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.post(t, "/accounts/poke/eu-west-1/pause", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, decode[requestedResponse](t, resp).Requested)

	// second request is a no-op
	resp = f.post(t, "/accounts/poke/eu-west-1/pause", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.False(t, decode[requestedResponse](t, resp).Requested)

	resp = f.post(t, "/accounts/poke/eu-west-1/cancel", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, decode[requestedResponse](t, resp).Requested)

	// nothing parked on the target yet
	resp = f.post(t, "/accounts/poke/eu-west-1/resume", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	parked := &types.Deployment{ID: "parked-1", Application: "accounts", Environment: "poke", Region: "eu-west-1"}
	require.NoError(t, f.coord.RegisterPaused(ctx, parked))

	resp = f.post(t, "/accounts/poke/eu-west-1/resume", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, decode[queuedResponse](t, resp).Queued)

	raw, err := f.rdb.LRange(ctx, "gantry:queue:deployments", 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, raw, 1)
	var msg coordination.Message
	require.NoError(t, json.Unmarshal([]byte(raw[0]), &msg))
	assert.Equal(t, coordination.KindResume, msg.Kind)
	assert.Equal(t, "parked-1", msg.DeploymentID)
}

func TestLockLifecycle(t *testing.T) {
	f := newFixture(t)

	assert.False(t, decode[lockResponse](t, f.get(t, "/lock")).Locked)

	resp := f.post(t, "/lock", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	assert.True(t, decode[lockResponse](t, f.get(t, "/lock")).Locked)

	resp = f.delete(t, "/lock")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	assert.False(t, decode[lockResponse](t, f.get(t, "/lock")).Locked)
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/events")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	d := &types.Deployment{ID: "stream-1", Application: "accounts", Environment: "poke", Region: "eu-west-1"}
	f.broker.Publish(events.DeploymentEvent(events.EventDeploymentStarted, d, ""))

	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.NoError(t, scanner.Err())
	require.NotEmpty(t, data, "no event frame before the stream ended")

	var event events.Event
	require.NoError(t, json.Unmarshal([]byte(data), &event))
	assert.Equal(t, events.EventDeploymentStarted, event.Type)
	assert.Equal(t, "stream-1", event.DeploymentID)
}
