package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/vakt/internal/audit"
	"github.com/friendsincode/vakt/internal/auth"
	"github.com/friendsincode/vakt/internal/config"
	"github.com/friendsincode/vakt/internal/events"
	"github.com/friendsincode/vakt/internal/models"
	"github.com/friendsincode/vakt/internal/runs"
	"github.com/friendsincode/vakt/internal/webhooks"
)

// sampleInstanceBody fills completely: two staff cover three day-shift
// requirements within their limits.
const sampleInstanceBody = `SECTION_HORIZON
3

SECTION_SHIFTS
D,480,

SECTION_STAFF
A,,3,1440,0,3,1,1
B,,3,1440,0,3,1,1

SECTION_COVER
0,D,2,100,1
1,D,1,90,1
2,D,2,80,1
`

func newTestAPI(t *testing.T) *API {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.APIKey{},
		&models.RosterInstance{},
		&models.SolveRun{},
		&models.RunAssignment{},
		&models.AuditLog{},
		&models.WebhookTarget{},
		&models.WebhookLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := &config.Config{
		JWTSigningKey: "test-signing-key",
		TokenTTL:      time.Hour,
		SolveTimeout:  5 * time.Second,
	}

	bus := events.NewBus()
	logger := zerolog.Nop()
	runsSvc := runs.New(db, bus, cfg.SolveTimeout, logger)
	auditSvc := audit.NewService(db, bus, logger)
	webhookSvc := webhooks.NewService(db, bus, logger)

	return New(db, cfg, runsSvc, auditSvc, webhookSvc, bus, logger)
}

func seedUser(t *testing.T, db *gorm.DB, email, password string, role models.RoleName) *models.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &models.User{
		ID:       uuid.NewString(),
		Email:    email,
		Password: string(hash),
		Role:     role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// asUser injects claims directly, bypassing the middleware. Router-level
// tests use issueToken instead.
func asUser(req *http.Request, user *models.User) *http.Request {
	return req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   string(user.Role),
	}))
}

func withRouteParam(req *http.Request, key, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func issueToken(t *testing.T, a *API, user *models.User) string {
	t.Helper()

	token, err := auth.Issue(a.jwtSecret, auth.Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   string(user.Role),
	}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

// serve runs the request through the full router, middleware included.
func serve(a *API, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	a.Routes(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func seedTestInstance(t *testing.T, a *API, name, body string) *models.RosterInstance {
	t.Helper()

	inst := &models.RosterInstance{
		ID:          uuid.NewString(),
		Name:        name,
		Source:      models.SourceUpload,
		Body:        body,
		Fingerprint: uuid.NewString(),
		SizeBytes:   int64(len(body)),
	}
	if err := a.db.Create(inst).Error; err != nil {
		t.Fatalf("seed instance: %v", err)
	}
	return inst
}

func TestHandleHealth(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	rr := serve(a, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestRoutes_RejectUnauthenticated(t *testing.T) {
	a := newTestAPI(t)

	for _, path := range []string{
		"/api/v1/instances",
		"/api/v1/runs",
		"/api/v1/auth/me",
		"/api/v1/audit",
	} {
		req := httptest.NewRequest("GET", path, nil)
		rr := serve(a, req)
		if rr.Code != 401 {
			t.Errorf("GET %s without credentials: got %d, want 401", path, rr.Code)
		}
	}
}

func TestRoutes_BearerTokenAccepted(t *testing.T) {
	a := newTestAPI(t)
	admin := seedUser(t, a.db, "admin@example.com", "secret", models.RoleAdmin)
	token := issueToken(t, a, admin)

	req := httptest.NewRequest("GET", "/api/v1/instances", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := serve(a, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestRoutes_RoleEnforcement(t *testing.T) {
	a := newTestAPI(t)
	viewer := seedUser(t, a.db, "viewer@example.com", "secret", models.RoleViewer)
	planner := seedUser(t, a.db, "planner@example.com", "secret", models.RolePlanner)

	createBody, _ := json.Marshal(map[string]string{
		"name": "ward-7",
		"body": sampleInstanceBody,
	})

	t.Run("viewer cannot create instances", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/instances", strings.NewReader(string(createBody)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+issueToken(t, a, viewer))
		rr := serve(a, req)

		if rr.Code != 403 {
			t.Fatalf("expected 403, got %d body=%s", rr.Code, rr.Body.String())
		}
		var body map[string]string
		if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["error"] != "insufficient_role" {
			t.Errorf("error = %q, want insufficient_role", body["error"])
		}
	})

	t.Run("planner can create instances", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/instances", strings.NewReader(string(createBody)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+issueToken(t, a, planner))
		rr := serve(a, req)

		if rr.Code != 201 {
			t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
		}
	})

	t.Run("planner cannot read the audit log", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/audit", nil)
		req.Header.Set("Authorization", "Bearer "+issueToken(t, a, planner))
		rr := serve(a, req)

		if rr.Code != 403 {
			t.Fatalf("expected 403, got %d", rr.Code)
		}
	})

	t.Run("viewer can read instances", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/instances", nil)
		req.Header.Set("Authorization", "Bearer "+issueToken(t, a, viewer))
		rr := serve(a, req)

		if rr.Code != 200 {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	})
}

func TestParseEventTypes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []events.EventType
	}{
		{
			name: "empty falls back to run outcomes",
			raw:  "",
			want: []events.EventType{events.EventRunCompleted, events.EventRunFailed},
		},
		{
			name: "explicit types",
			raw:  "run.queued,instance.created",
			want: []events.EventType{events.EventRunQueued, events.EventInstanceCreated},
		},
		{
			name: "unknown and audit types are dropped",
			raw:  "audit.user.login,bogus,run.completed",
			want: []events.EventType{events.EventRunCompleted},
		},
		{
			name: "whitespace tolerated",
			raw:  " run.started , run.failed ",
			want: []events.EventType{events.EventRunStarted, events.EventRunFailed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseEventTypes(tt.raw)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("types[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}
