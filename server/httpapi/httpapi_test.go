package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/Speedy6451/avarus/server"
)

func newTestApp(t *testing.T) (*App, *httptest.Server) {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.Save = t.TempDir()

	srv, err := server.New(cfg, nil)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	app := NewApp(srv, "48228", nil)
	ts := httptest.NewServer(app.Router())
	t.Cleanup(ts.Close)
	return app, ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestNewTurtleAndInfo(t *testing.T) {
	_, ts := newTestApp(t)

	resp := postJSON(t, ts.URL+"/turtle/new", newTurtleRequest{
		Fuel:      100,
		FuelLimit: 1000,
		Position:  cellJSON{X: 1, Y: 2, Z: 3},
		Facing:    "north",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var created newTurtleResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.Name == "" {
		t.Fatal("expected a non-empty turtle name")
	}

	infoResp, err := http.Get(ts.URL + "/turtle/" + strconv.FormatUint(uint64(created.ID), 10) + "/info")
	if err != nil {
		t.Fatalf("GET info: %v", err)
	}
	defer infoResp.Body.Close()
	if infoResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", infoResp.StatusCode)
	}

	var info struct {
		ID       uint32 `json:"id"`
		Name     string `json:"name"`
		Fuel     uint32 `json:"fuel"`
		Position positionJSON `json:"position"`
	}
	if err := json.NewDecoder(infoResp.Body).Decode(&info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info.Name != created.Name || info.Fuel != 100 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestUpdateUnknownTurtleRequestsReload(t *testing.T) {
	_, ts := newTestApp(t)

	resp := postJSON(t, ts.URL+"/turtle/9999/update", updateJSON{
		Fuel:  50,
		Ahead: "minecraft:air",
		Above: "minecraft:air",
		Below: "minecraft:stone",
		Ret:   responseJSON{Kind: "none"},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var cmd commandJSON
	if err := json.NewDecoder(resp.Body).Decode(&cmd); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if cmd.Kind != "reloadCode" {
		t.Fatalf("expected a reload command, got %+v", cmd)
	}
}

func TestFlushAndShutdownRoutes(t *testing.T) {
	_, ts := newTestApp(t)

	resp, err := http.Get(ts.URL + "/flush")
	if err != nil {
		t.Fatalf("GET /flush: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/turtle/shutdown")
	if err != nil {
		t.Fatalf("GET /turtle/shutdown: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 from shutdown, got %d", resp.StatusCode)
	}
}
