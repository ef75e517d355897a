package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	config "github.com/maheshrc27/postpilot/configs"
	"github.com/maheshrc27/postpilot/internal/api/handlers"
	"github.com/maheshrc27/postpilot/internal/api/middleware"
	"github.com/maheshrc27/postpilot/internal/migrate"
	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/repository/memory"
	"github.com/maheshrc27/postpilot/internal/service"
	"github.com/maheshrc27/postpilot/internal/stage"
	"github.com/maheshrc27/postpilot/pkg/utils"
)

const secret = "test-secret"

func newTestApp(t *testing.T) (*fiber.App, *memory.Store) {
	t.Helper()
	store := memory.New()
	reg, err := stage.Default(stage.Deps{Versioner: store})
	if err != nil {
		t.Fatal(err)
	}
	orch := service.NewOrchestrator(store.Clients(), store.Runs(), store.Posts(), service.NewEligibilityOracle(), reg,
		stage.Config{MaxPostsPerCycle: 4, SchemaVersion: migrate.LatestVersion()}, nil)

	app := fiber.New()
	Register(app, middleware.NewAuthMiddleware(config.Config{AdminSecret: secret}), Handlers{
		Health:    handlers.NewHealthHandler(store, migrate.LatestVersion()),
		Clients:   handlers.NewClientHandler(service.NewClientService(store.Clients(), 24*time.Hour), orch),
		Runs:      handlers.NewRunHandler(store.Runs(), store.Posts()),
		Incidents: handlers.NewIncidentHandler(store.Incidents()),
	})
	return app, store
}

func do(t *testing.T, app *fiber.App, method, path, body string, auth bool) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if auth {
		token, err := utils.GenerateToken(secret, "ops", time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestHealthReportsSchemaVersion(t *testing.T) {
	app, _ := newTestApp(t)
	status, body := do(t, app, http.MethodGet, "/health", "", false)
	if status != http.StatusOK || body["status"] != "ok" || int(body["schema_version"].(float64)) != migrate.LatestVersion() {
		t.Fatalf("health = %d %v", status, body)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	app, _ := newTestApp(t)
	if status, _ := do(t, app, http.MethodGet, "/api/incidents", "", false); status != http.StatusUnauthorized {
		t.Fatalf("status = %d", status)
	}
}

func TestClientLifecycle(t *testing.T) {
	app, _ := newTestApp(t)

	status, created := do(t, app, http.MethodPost, "/api/clients", `{"name":"Acme"}`, true)
	if status != http.StatusCreated || created["auto_publish"] != true || created["subscription_status"] != "trial" {
		t.Fatalf("create = %d %v", status, created)
	}
	id := created["id"].(string)

	status, paused := do(t, app, http.MethodPost, "/api/clients/"+id+"/pause", "", true)
	if status != http.StatusOK || paused["paused"] != true {
		t.Fatalf("pause = %d %v", status, paused)
	}

	status, res := do(t, app, http.MethodPost, "/api/clients/"+id+"/cycles", "", true)
	if status != http.StatusOK || res["outcome"] != "skipped" || res["skip_reason"] != "paused" {
		t.Fatalf("cycle = %d %v", status, res)
	}

	if status, _ := do(t, app, http.MethodPut, "/api/clients/"+id+"/subscription", `{"status":"platinum"}`, true); status != http.StatusBadRequest {
		t.Fatalf("bad subscription status = %d", status)
	}
	if status, _ := do(t, app, http.MethodGet, "/api/clients/missing", "", true); status != http.StatusNotFound {
		t.Fatalf("missing client = %d", status)
	}
}

func TestTriggeredCycleFailureIsVisibleInRun(t *testing.T) {
	app, _ := newTestApp(t)
	_, created := do(t, app, http.MethodPost, "/api/clients", `{"name":"Acme"}`, true)
	id := created["id"].(string)

	// no generator is wired, so preflight fails the run
	_, res := do(t, app, http.MethodPost, "/api/clients/"+id+"/cycles", "", true)
	if res["outcome"] != "failed" || !strings.HasPrefix(res["reason"].(string), "stage preflight:") {
		t.Fatalf("cycle = %v", res)
	}

	status, body := do(t, app, http.MethodGet, "/api/clients/"+id+"/runs/"+res["run_id"].(string), "", true)
	run := body["run"].(map[string]any)
	if status != http.StatusOK || run["status"] != "failed" {
		t.Fatalf("run = %d %v", status, body)
	}
}

func TestResolveIncident(t *testing.T) {
	app, store := newTestApp(t)
	inc := &models.Incident{ID: "i1", Kind: models.IncidentOther, EntityType: models.EntityPlatform, EntityID: "linkedin", DetectedAt: time.Now()}
	if _, err := store.Incidents().Open(context.Background(), inc); err != nil {
		t.Fatal(err)
	}

	status, body := do(t, app, http.MethodPost, "/api/incidents/i1/resolve", `{"remediation":"token rotated"}`, true)
	if status != http.StatusOK || body["remediation"] != "token rotated (ops)" {
		t.Fatalf("resolve = %d %v", status, body)
	}
	if status, _ := do(t, app, http.MethodPost, "/api/incidents/i1/resolve", `{"remediation":"again"}`, true); status != http.StatusConflict {
		t.Fatalf("second resolve = %d", status)
	}
	status, list := do(t, app, http.MethodGet, "/api/incidents?open=true", "", true)
	if open, _ := list["incidents"].([]any); status != http.StatusOK || len(open) != 0 {
		t.Fatalf("open incidents = %d %v", status, list)
	}
}
