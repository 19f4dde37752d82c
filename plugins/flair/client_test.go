package flair

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type staticTokens struct {
	mu        sync.Mutex
	refreshes int
}

func (s *staticTokens) AccessToken(context.Context) (string, error) { return "token-1", nil }

func (s *staticTokens) TriggerRefresh(context.Context) {
	s.mu.Lock()
	s.refreshes++
	s.mu.Unlock()
}

func (s *staticTokens) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

func newTestClient(t *testing.T, handler http.HandlerFunc, structureID string) (*Client, *staticTokens) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	tokens := &staticTokens{}
	return NewClient(server.URL+"/", tokens, server.Client(), structureID), tokens
}

func TestClientListVents(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/vents" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", jsonAPIContentType)
		_, _ = io.WriteString(w, `{"data":[{"type":"vents","id":"v1","attributes":{
			"name":"Bedroom Vent","percent-open":49.6,"duct-temperature-c":22.25,
			"duct-pressure":100.9,"firmware-version-s":"1.2.3"}}]}`)
	}, "")

	vents, err := client.ListVents(context.Background())
	if err != nil {
		t.Fatalf("list vents: %v", err)
	}
	if len(vents) != 1 {
		t.Fatalf("vents = %d, want 1", len(vents))
	}
	v := vents[0]
	if v.ID != "v1" || v.Name != "Bedroom Vent" || v.PercentOpen != 50 || v.DuctTemperatureC != 22.25 || v.FirmwareVersionS != "1.2.3" {
		t.Fatalf("vent = %+v", v)
	}
}

func TestClientPatchSendsJSONAPIDocument(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/rooms/r1" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != jsonAPIContentType {
			t.Errorf("content type = %q", got)
		}
		var body struct {
			Data struct {
				Type       string         `json:"type"`
				ID         string         `json:"id"`
				Attributes map[string]any `json:"attributes"`
			} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Data.Type != "rooms" || body.Data.ID != "r1" || body.Data.Attributes["active"] != false {
			t.Errorf("body = %+v", body)
		}
		_, _ = io.WriteString(w, `{"data":{"type":"rooms","id":"r1","attributes":{"name":"Bedroom","active":false,"set-point-c":21}}}`)
	}, "")

	room, err := client.SetRoomAway(context.Background(), "r1", true)
	if err != nil {
		t.Fatalf("set away: %v", err)
	}
	if room.Active || room.SetPointC != 21 {
		t.Fatalf("room = %+v", room)
	}
}

func TestClientEmptyPatchReadsBack(t *testing.T) {
	var mu sync.Mutex
	var methods []string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		if r.Method == http.MethodPatch {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = io.WriteString(w, `{"data":{"type":"vents","id":"v1","attributes":{"name":"Bedroom Vent","percent-open":75}}}`)
	}, "")

	vent, err := client.SetVentPercentOpen(context.Background(), "v1", 75)
	if err != nil {
		t.Fatalf("set percent: %v", err)
	}
	if vent.PercentOpen != 75 {
		t.Fatalf("percent = %d, want 75", vent.PercentOpen)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(methods) != 2 || methods[0] != http.MethodPatch || methods[1] != http.MethodGet {
		t.Fatalf("methods = %v, want PATCH then GET", methods)
	}
}

func TestClientUnauthorizedTriggersRefresh(t *testing.T) {
	client, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"expired"}`, http.StatusUnauthorized)
	}, "")

	_, err := client.ReadPuck(context.Background(), "p1")
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401 status error", err)
	}
	if tokens.Refreshes() != 1 {
		t.Fatalf("refreshes = %d, want 1", tokens.Refreshes())
	}
}

func TestClientPrimaryStructure(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[
			{"type":"structures","id":"s1","attributes":{"name":"Cabin","mode":"Manual","structure-heat-cool-mode":"HEAT"}},
			{"type":"structures","id":"s2","attributes":{"name":"Home","mode":"auto","structure-heat-cool-mode":"cool","set-point-temperature-c":20.5}}]}`)
	}

	client, _ := newTestClient(t, handler, "")
	st, err := client.PrimaryStructure(context.Background())
	if err != nil {
		t.Fatalf("primary structure: %v", err)
	}
	if st.ID != "s1" || st.Mode != ModeManual || st.StructureHeatCoolMode != HeatCoolHeat {
		t.Fatalf("structure = %+v", st)
	}

	client, _ = newTestClient(t, handler, "s2")
	st, err = client.PrimaryStructure(context.Background())
	if err != nil {
		t.Fatalf("primary structure: %v", err)
	}
	if st.ID != "s2" || st.SetPointTemperatureC != 20.5 {
		t.Fatalf("structure = %+v", st)
	}

	client, _ = newTestClient(t, handler, "s9")
	if _, err := client.PrimaryStructure(context.Background()); !errors.Is(err, ErrNoStructure) {
		t.Fatalf("err = %v, want ErrNoStructure", err)
	}
}
