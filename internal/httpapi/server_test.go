package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/tars/internal/config"
	"github.com/ent0n29/tars/internal/display"
	"github.com/ent0n29/tars/internal/observability"
	"github.com/ent0n29/tars/internal/protocol"
	"github.com/ent0n29/tars/internal/speech"
)

type staticSession string

func (s staticSession) Current() string { return string(s) }

type fakeVoice struct {
	mu       sync.Mutex
	settings speech.Settings
}

func (f *fakeVoice) Available() bool { return true }

func (f *fakeVoice) Settings() speech.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

func (f *fakeVoice) SetVoice(v speech.Voice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings.Voice = v.Name
	if v.Lang != "" {
		f.settings.Lang = v.Lang
	}
}

func (f *fakeVoice) SetVolume(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings.Volume = v
}

type fakeLister []speech.Voice

func (f fakeLister) Voices(context.Context) ([]speech.Voice, error) {
	return append([]speech.Voice(nil), f...), nil
}

func TestSessionEndpoint(t *testing.T) {
	cfg := config.Config{APIBase: "http://localhost:8000"}

	empty := httptest.NewServer(New(cfg, staticSession(""), nil, nil).Router())
	defer empty.Close()
	res, err := http.Get(empty.URL + "/v1/session")
	if err != nil {
		t.Fatalf("GET /v1/session error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}

	ts := httptest.NewServer(New(cfg, staticSession("abc-123"), nil, observability.NewMetrics(fmt.Sprintf("tars_test_httpapi_session_%d", time.Now().UnixNano()))).Router())
	defer ts.Close()
	res, err = http.Get(ts.URL + "/v1/session")
	if err != nil {
		t.Fatalf("GET /v1/session error = %v", err)
	}
	defer res.Body.Close()
	var body sessionResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.SessionID != "abc-123" || body.APIBase != cfg.APIBase {
		t.Fatalf("session = %+v", body)
	}
}

func TestHealthAndLatency(t *testing.T) {
	metrics := observability.NewMetrics(fmt.Sprintf("tars_test_httpapi_health_%d", time.Now().UnixNano()))
	metrics.ObserveStage(observability.StageTurnTotal, 1500*time.Millisecond)
	ts := httptest.NewServer(New(config.Config{CaptureMode: config.CaptureText}, staticSession(""), nil, metrics).Router())
	defer ts.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}

	res, err := http.Get(ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET /v1/perf/latency error = %v", err)
	}
	defer res.Body.Close()
	var snap observability.LatencySnapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatalf("decode latency: %v", err)
	}
	found := false
	for _, st := range snap.Stages {
		if st.Stage == "turn_total" && st.Samples == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("turn_total sample missing from %+v", snap.Stages)
	}
}

func TestUIRoutes(t *testing.T) {
	ts := httptest.NewServer(New(config.Config{}, nil, nil, nil).Router())
	defer ts.Close()

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	rootRes, err := client.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	defer rootRes.Body.Close()
	if rootRes.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("GET / status = %d, want %d", rootRes.StatusCode, http.StatusTemporaryRedirect)
	}

	uiRes, err := http.Get(ts.URL + "/ui/")
	if err != nil {
		t.Fatalf("GET /ui/ error = %v", err)
	}
	defer uiRes.Body.Close()
	var body bytes.Buffer
	if _, err := body.ReadFrom(uiRes.Body); err != nil {
		t.Fatalf("reading /ui/ body failed: %v", err)
	}
	if uiRes.StatusCode != http.StatusOK || !strings.Contains(body.String(), "/v1/display/ws") {
		t.Fatalf("GET /ui/ status = %d, body missing websocket wiring", uiRes.StatusCode)
	}
}

func TestVoiceEndpoints(t *testing.T) {
	voice := &fakeVoice{settings: speech.DefaultSettings()}
	lister := fakeLister{{Name: "Zoe", Lang: "en-GB"}, {Name: "Alba", Lang: "es-ES"}}
	ts := httptest.NewServer(New(config.Config{}, nil, nil, nil, WithVoice(voice, lister)).Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/voices")
	if err != nil {
		t.Fatalf("GET /v1/voices error = %v", err)
	}
	defer res.Body.Close()
	var list listVoicesResponse
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		t.Fatalf("decode voices: %v", err)
	}
	if len(list.Voices) != 2 || list.Voices[0].Name != "Alba" {
		t.Fatalf("voices = %+v, want sorted by name", list.Voices)
	}
	if len(list.Recommended) != 1 || list.Recommended[0].Name != "Alba" {
		t.Fatalf("recommended = %+v, want Alba", list.Recommended)
	}

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v1/voice", strings.NewReader(`{"name":"Zoe","lang":"en-GB","volume":0.5}`))
	putRes, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /v1/voice error = %v", err)
	}
	putRes.Body.Close()
	if putRes.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d, want %d", putRes.StatusCode, http.StatusOK)
	}
	if got := voice.Settings(); got.Voice != "Zoe" || got.Lang != "en-GB" || got.Volume != 0.5 {
		t.Fatalf("settings = %+v", got)
	}

	req, _ = http.NewRequest(http.MethodPut, ts.URL+"/v1/voice", strings.NewReader(`{"volume":4}`))
	badRes, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /v1/voice error = %v", err)
	}
	badRes.Body.Close()
	if badRes.StatusCode != http.StatusBadRequest {
		t.Fatalf("PUT bad volume status = %d, want %d", badRes.StatusCode, http.StatusBadRequest)
	}
}

func TestDisplayWebSocket(t *testing.T) {
	hub := display.NewHub(16)
	ts := httptest.NewServer(New(config.Config{}, nil, hub, observability.NewMetrics(fmt.Sprintf("tars_test_httpapi_ws_%d", time.Now().UnixNano()))).Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/display/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	if err := conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionPress}); err != nil {
		t.Fatalf("write control: %v", err)
	}
	select {
	case msg := <-hub.Inbound():
		ctrl, ok := msg.(protocol.ClientControl)
		if !ok || ctrl.Action != protocol.ActionPress {
			t.Fatalf("inbound = %#v, want press control", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("control not delivered to hub")
	}

	hub.SetStatus("listening...")
	var status protocol.DisplayStatus
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status.Type != protocol.TypeDisplayStatus || status.Text != "listening..." {
		t.Fatalf("status = %+v", status)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"client_control","action":"dance"}`)); err != nil {
		t.Fatalf("write invalid: %v", err)
	}
	var errEvent protocol.ErrorEvent
	if err := conn.ReadJSON(&errEvent); err != nil {
		t.Fatalf("read error event: %v", err)
	}
	if errEvent.Code != "invalid_client_message" {
		t.Fatalf("error event = %+v", errEvent)
	}
}

func TestDisplayWebSocketRejectsForeignOrigin(t *testing.T) {
	ts := httptest.NewServer(New(config.Config{}, nil, display.NewHub(4), nil).Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/display/ws"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	if _, res, err := websocket.DefaultDialer.Dial(wsURL, header); err == nil {
		t.Fatalf("dial with foreign origin succeeded")
	} else if res != nil && res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
}

func TestDisplayWebSocketDisconnectEndsCapture(t *testing.T) {
	hub := display.NewHub(16)
	ts := httptest.NewServer(New(config.Config{}, nil, hub, nil).Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/display/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	result := `{"type":"client_capture_result","result_index":0,"results":[{"transcript":"hola","is_final":false}]}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(result)); err != nil {
		t.Fatalf("write capture result: %v", err)
	}
	select {
	case msg := <-hub.Inbound():
		if _, ok := msg.(protocol.ClientCaptureResult); !ok {
			t.Fatalf("inbound = %#v, want capture result", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("capture result not delivered")
	}

	conn.Close()
	select {
	case msg := <-hub.Inbound():
		capErr, ok := msg.(protocol.ClientCaptureError)
		if !ok || capErr.Code != "disconnected" {
			t.Fatalf("inbound = %#v, want disconnected capture error", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("disconnect not reported to the capture")
	}
	if n := hub.Subscribers(); n != 0 {
		t.Fatalf("Subscribers() = %d, want 0", n)
	}
}
