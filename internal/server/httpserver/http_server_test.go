package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/prefsd/internal/config"
	"git.home.luguber.info/inful/prefsd/internal/daemon/events"
	"git.home.luguber.info/inful/prefsd/internal/erase"
	"git.home.luguber.info/inful/prefsd/internal/eventstore"
	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/handlers"
	"git.home.luguber.info/inful/prefsd/internal/prefs"
	"git.home.luguber.info/inful/prefsd/internal/restore"
	"git.home.luguber.info/inful/prefsd/internal/server/responses"
	"git.home.luguber.info/inful/prefsd/internal/storagemode"
	"git.home.luguber.info/inful/prefsd/internal/store"
	"git.home.luguber.info/inful/prefsd/internal/value"
)

type fakeRestore struct {
	restored []string
	fail     error
}

func (f *fakeRestore) Targets() []restore.Target {
	return []restore.Target{{Key: "volume"}}
}

func (f *fakeRestore) IsConsistent(context.Context, string) bool { return f.fail == nil }

func (f *fakeRestore) RestoreDefault(_ context.Context, key string) error {
	if f.fail != nil {
		return f.fail
	}
	f.restored = append(f.restored, key)
	return nil
}

func (f *fakeRestore) RuntimeCheck(context.Context) []restore.SweepResult {
	return []restore.SweepResult{{Key: "volume", Consistent: true}}
}

type fakeHealth struct{ status string }

func (f fakeHealth) Health(context.Context) responses.HealthResponse {
	return responses.HealthResponse{Status: f.status, Timestamp: time.Now()}
}

type noopEraser struct{ calls []erase.Type }

func (n *noopEraser) ErasePartition(_ context.Context, t erase.Type) error {
	n.calls = append(n.calls, t)
	return nil
}

type fixture struct {
	server  *Server
	store   *store.Store
	bus     *events.Bus
	machine *storagemode.Machine
	restore *fakeRestore
	eraser  *noopEraser
	journal *eventstore.SQLiteStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.New(nil)
	require.NoError(t, st.Load(context.Background()))
	reg := prefs.NewRegistry()
	require.NoError(t, reg.Register(handlers.NewSchemaHandler("general", st, handlers.KeySpec{
		Key:    "volume",
		Schema: prefs.MustCompileSchema("volume", `{"type":"number","minimum":0,"maximum":100}`),
	}, handlers.KeySpec{Key: "locale"})))
	reg.Seal()

	bus := events.NewBus()
	t.Cleanup(bus.Close)
	d := prefs.NewDispatcher(reg, st, prefs.WithBus(bus))

	machine := storagemode.NewMachine(storagemode.WithBus(bus))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = machine.Run(ctx) }()
	t.Cleanup(cancel)

	journal, err := eventstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	f := &fixture{store: st, bus: bus, machine: machine, restore: &fakeRestore{}, eraser: &noopEraser{}, journal: journal}
	eraseSvc := erase.NewService(func() (erase.Provider, error) { return f.eraser, nil })
	f.server = New(config.ServiceConfig{Listen: "127.0.0.1:0"}, Services{
		Preferences: d,
		Current:     d,
		Restore:     f.restore,
		StorageMode: machine,
		Erase:       eraseSvc,
		History:     journal,
		Health:      fakeHealth{status: "healthy"},
		Bus:         bus,
		Metrics:     http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics\n")) }),
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestSetAndGetPreference(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/v1/preferences", `{"key":"volume","value":40}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["requestId"])
	assert.Equal(t, body["requestId"], rec.Header().Get("X-Request-ID"))

	rec, body = f.do(t, http.MethodGet, "/v1/preferences/volume", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.InDelta(t, 40.0, body["value"], 0.001)
}

func TestSetRejectsInvalidAndUnknown(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/v1/preferences", `{"key":"volume","value":400}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, string(errors.CategoryInvalidValue), body["errorCode"])

	rec, body = f.do(t, http.MethodPost, "/v1/preferences", `{"key":"brightness","value":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown key", body["errorText"])

	rec, body = f.do(t, http.MethodGet, "/v1/preferences/brightness", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "unknown key", body["errorText"])

	rec, _ = f.do(t, http.MethodPost, "/v1/preferences", `{"key":"volume"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/v1/preferences", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetNullOverridesDefault(t *testing.T) {
	f := newFixture(t)
	f.store.LoadDefaults(map[string]value.Value{"locale": value.String("en_US")})

	rec, body := f.do(t, http.MethodPost, "/v1/preferences", `{"key":"locale","value":null}`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])

	current, ok := f.store.Current("locale")
	require.True(t, ok)
	assert.True(t, current.IsNull())

	rec, body = f.do(t, http.MethodGet, "/v1/preferences/locale", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	got, present := body["value"]
	assert.True(t, present)
	assert.Nil(t, got)

	rec, _ = f.do(t, http.MethodPost, "/v1/preferences", `{"key":"volume","value":null}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOriginTrustedOnlyFromLoopback(t *testing.T) {
	f := newFixture(t)
	changes, unsubscribe := events.Subscribe[events.ValueChanged](f.bus, 4)
	defer unsubscribe()

	send := func(remoteAddr, body string, header http.Header) string {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/v1/preferences", strings.NewReader(body))
		req.RemoteAddr = remoteAddr
		for k, v := range header {
			req.Header[k] = v
		}
		rec := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		select {
		case evt := <-changes:
			return evt.Origin
		case <-time.After(time.Second):
			t.Fatal("no change published")
			return ""
		}
	}

	assert.Equal(t, "local", send("127.0.0.1:5000", `{"key":"locale","value":"a","origin":"local"}`, nil))
	assert.Equal(t, "system", send("[::1]:5000", `{"key":"locale","value":"b"}`,
		http.Header{"X-Prefs-Origin": {"system"}}))
	assert.Equal(t, "remote", send("192.0.2.1:5000", `{"key":"locale","value":"c","origin":"local"}`, nil))
	assert.Equal(t, "remote", send("192.0.2.1:5000", `{"key":"locale","value":"d","origin":"local"}`,
		http.Header{"X-Forwarded-For": {"127.0.0.1"}}))
}

func TestSetManyAndGetMany(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/v1/preferences", `{"values":{"volume":10,"locale":"de_DE","nope":1}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, body["success"])
	failed, ok := body["failed"].(map[string]any)
	require.True(t, ok, body)
	assert.Contains(t, failed, "nope")

	rec, body = f.do(t, http.MethodGet, "/v1/preferences?keys=volume,locale,nope", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	values := body["values"].(map[string]any)
	assert.Equal(t, "de_DE", values["locale"])
	assert.Equal(t, []any{"nope"}, body["unknown"])
}

func TestRestoreAndConsistencyRoutes(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/v1/restore/volume", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["consistent"])
	assert.Equal(t, []string{"volume"}, f.restore.restored)

	rec, body = f.do(t, http.MethodGet, "/v1/consistency", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["keys"], 1)

	rec, body = f.do(t, http.MethodPost, "/v1/consistency/sweep", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	f.restore.fail = errors.RestoreFailed("volume", "default resource missing").Build()
	rec, body = f.do(t, http.MethodPost, "/v1/restore/volume", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "default resource missing", body["errorText"])
}

func TestHistoryRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, evt := range []events.Event{
		events.ValueChanged{Key: "volume", Value: value.Int(1), Origin: "local", At: time.Now()},
		events.ValueChanged{Key: "volume", Value: value.Int(2), Origin: "remote", At: time.Now()},
		events.ModeChanged{From: "Unknown", To: "Phone", Cause: "availability", At: time.Now()},
	} {
		r, ok := eventstore.FromEvent(evt)
		require.True(t, ok)
		require.NoError(t, f.journal.Append(ctx, r))
	}

	rec, body := f.do(t, http.MethodGet, "/v1/history/volume?limit=1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	records := body["records"].([]any)
	require.Len(t, records, 1)
	assert.Equal(t, "remote", records[0].(map[string]any)["metadata"].(map[string]any)["origin"])

	rec, body = f.do(t, http.MethodGet, "/v1/history", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["records"], 3)

	rec, body = f.do(t, http.MethodGet, "/v1/history/locale", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["records"])

	rec, _ = f.do(t, http.MethodGet, "/v1/history/volume?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = f.do(t, http.MethodGet, "/v1/history?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStorageModeRoutes(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, http.MethodPost, "/v1/storage-mode/events/entry", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool { return f.machine.Mode() == storagemode.Brick }, 2*time.Second, 5*time.Millisecond)

	rec, body := f.do(t, http.MethodGet, "/v1/storage-mode", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Brick", body["mode"])

	rec, _ = f.do(t, http.MethodPost, "/v1/storage-mode/events/progress", `{"message":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEraseRoute(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/v1/erase/media", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, []erase.Type{erase.TypeMedia}, f.eraser.calls)

	rec, body = f.do(t, http.MethodPost, "/v1/erase/everything", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid type everything", body["errorText"])
}

func TestHealthMetricsAndNotFound(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	rec, _ = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")

	rec, body = f.do(t, http.MethodGet, "/v2/whatever", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])
}

func TestSubscribeStreamsChanges(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/preferences", "application/json", bytes.NewBufferString(`{"key":"volume","value":5}`))
	require.NoError(t, err)
	_ = resp.Body.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/subscribe?keys=volume"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first responses.StreamMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "value", first.Type)

	require.Eventually(t, func() bool {
		return events.SubscriberCount[events.Event](f.bus) == 1
	}, 2*time.Second, 5*time.Millisecond)

	resp, err = http.Post(srv.URL+"/v1/preferences", "application/json", bytes.NewBufferString(`{"key":"locale","value":"fr_FR"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	resp, err = http.Post(srv.URL+"/v1/preferences", "application/json", bytes.NewBufferString(`{"key":"volume","value":7}`))
	require.NoError(t, err)
	_ = resp.Body.Close()

	var next struct {
		Type string              `json:"type"`
		Data events.ValueChanged `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "valueChanged", next.Type)
	assert.Equal(t, "volume", next.Data.Key)
	assert.True(t, next.Data.Value.Equal(value.Int(7)))
	assert.Equal(t, "remote", next.Data.Origin)
}

func TestStartBindsAndStops(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.server.Start(context.Background()))
	addr := f.server.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.server.Stop(ctx))
}
