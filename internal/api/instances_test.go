package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/friendsincode/vakt/internal/instance"
	"github.com/friendsincode/vakt/internal/models"
)

func TestHandleInstancesCreate_JSONEnvelope(t *testing.T) {
	a := newTestAPI(t)
	planner := seedUser(t, a.db, "planner@example.com", "secret", models.RolePlanner)

	body, _ := json.Marshal(map[string]string{"name": "ward-7", "body": sampleInstanceBody})
	req := httptest.NewRequest("POST", "/api/v1/instances", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req = asUser(req, planner)
	rr := httptest.NewRecorder()
	a.handleInstancesCreate(rr, req)

	if rr.Code != 201 {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}

	var created models.RosterInstance
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Name != "ward-7" {
		t.Errorf("name = %q", created.Name)
	}
	if created.Horizon != 3 || created.ShiftCount != 1 || created.StaffCount != 2 || created.CoverCount != 3 {
		t.Errorf("shape counts = %d/%d/%d/%d, want 3/1/2/3",
			created.Horizon, created.ShiftCount, created.StaffCount, created.CoverCount)
	}
	if created.Fingerprint == "" {
		t.Error("fingerprint not set")
	}
	if created.UploadedBy != planner.ID {
		t.Errorf("uploaded_by = %q, want %q", created.UploadedBy, planner.ID)
	}
	if created.Source != models.SourceUpload {
		t.Errorf("source = %s, want upload", created.Source)
	}

	// The raw body is stored but never marshaled into responses.
	var stored models.RosterInstance
	if err := a.db.First(&stored, "id = ?", created.ID).Error; err != nil {
		t.Fatalf("load instance: %v", err)
	}
	if stored.Body != sampleInstanceBody {
		t.Error("stored body differs from upload")
	}
	if strings.Contains(rr.Body.String(), "SECTION_HORIZON") {
		t.Error("response leaks the instance body")
	}
}

func TestHandleInstancesCreate_RawBody(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest("POST", "/api/v1/instances?name=raw-upload", strings.NewReader(sampleInstanceBody))
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()
	a.handleInstancesCreate(rr, req)

	if rr.Code != 201 {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var created models.RosterInstance
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Name != "raw-upload" {
		t.Errorf("name = %q, want raw-upload", created.Name)
	}
}

func TestHandleInstancesCreate_DefaultsNameFromFingerprint(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest("POST", "/api/v1/instances", strings.NewReader(sampleInstanceBody))
	rr := httptest.NewRecorder()
	a.handleInstancesCreate(rr, req)

	if rr.Code != 201 {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	var created models.RosterInstance
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(created.Name, "instance-") || len(created.Name) != len("instance-")+8 {
		t.Errorf("name = %q, want instance-<8 hex chars>", created.Name)
	}
}

func TestHandleInstancesCreate_DuplicateFingerprint(t *testing.T) {
	a := newTestAPI(t)

	first := httptest.NewRequest("POST", "/api/v1/instances", strings.NewReader(sampleInstanceBody))
	rr := httptest.NewRecorder()
	a.handleInstancesCreate(rr, first)
	if rr.Code != 201 {
		t.Fatalf("first upload: expected 201, got %d", rr.Code)
	}
	var created models.RosterInstance
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// Same content under a different name is still the same instance.
	second := httptest.NewRequest("POST", "/api/v1/instances?name=other", strings.NewReader(sampleInstanceBody))
	rr = httptest.NewRecorder()
	a.handleInstancesCreate(rr, second)
	if rr.Code != 409 {
		t.Fatalf("duplicate upload: expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
	var conflict map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&conflict); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if conflict["error"] != "duplicate_instance" || conflict["instance_id"] != created.ID {
		t.Errorf("conflict = %v", conflict)
	}
}

func TestHandleInstancesCreate_Rejections(t *testing.T) {
	a := newTestAPI(t)

	tests := []struct {
		name        string
		contentType string
		body        string
		code        int
		errCode     string
	}{
		{"malformed sections", "text/plain", "SECTION_HORIZON\nabc\n", 400, "invalid_instance"},
		{"empty raw body", "text/plain", "", 400, "body_required"},
		{"json without body", "application/json", `{"name":"x"}`, 400, "body_required"},
		{"malformed json", "application/json", `{`, 400, "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/instances", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rr := httptest.NewRecorder()
			a.handleInstancesCreate(rr, req)

			if rr.Code != tt.code {
				t.Fatalf("expected %d, got %d body=%s", tt.code, rr.Code, rr.Body.String())
			}
			var body map[string]string
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tt.errCode {
				t.Errorf("error = %q, want %q", body["error"], tt.errCode)
			}
		})
	}
}

func TestHandleInstancesCreate_SizeLimit(t *testing.T) {
	a := newTestAPI(t)
	a.cfg.MaxInstanceSizeMB = 1

	oversized := strings.Repeat("x", 1<<20+1)
	req := httptest.NewRequest("POST", "/api/v1/instances", strings.NewReader(oversized))
	rr := httptest.NewRecorder()
	a.handleInstancesCreate(rr, req)

	if rr.Code != 413 {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "instance_too_large" {
		t.Errorf("error = %q, want instance_too_large", body["error"])
	}
}

func TestHandleInstanceBody(t *testing.T) {
	a := newTestAPI(t)
	inst := seedTestInstance(t, a, "ward-7", sampleInstanceBody)

	req := withRouteParam(httptest.NewRequest("GET", "/api/v1/instances/"+inst.ID+"/body", nil), "instanceID", inst.ID)
	rr := httptest.NewRecorder()
	a.handleInstanceBody(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	if rr.Body.String() != sampleInstanceBody {
		t.Error("body does not round-trip")
	}
}

func TestHandleInstanceLint(t *testing.T) {
	a := newTestAPI(t)

	t.Run("clean instance", func(t *testing.T) {
		inst := seedTestInstance(t, a, "clean", sampleInstanceBody)

		req := withRouteParam(httptest.NewRequest("GET", "/", nil), "instanceID", inst.ID)
		rr := httptest.NewRecorder()
		a.handleInstanceLint(rr, req)

		if rr.Code != 200 {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var res instance.VetResult
		if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !res.Valid || len(res.Errors) != 0 {
			t.Errorf("vet = %+v, want valid", res)
		}
	})

	t.Run("unreachable cover warns", func(t *testing.T) {
		body := `SECTION_HORIZON
2

SECTION_SHIFTS
D,480,

SECTION_STAFF
A,,2,960,0,2,1,1

SECTION_COVER
0,D,5,100,1
`
		inst := seedTestInstance(t, a, "greedy", body)

		req := withRouteParam(httptest.NewRequest("GET", "/", nil), "instanceID", inst.ID)
		rr := httptest.NewRecorder()
		a.handleInstanceLint(rr, req)

		if rr.Code != 200 {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var res instance.VetResult
		if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !res.Valid {
			t.Errorf("warnings must not invalidate: %+v", res)
		}
		if len(res.Warnings) == 0 {
			t.Error("expected an unreachable_cover warning")
		}
	})

	t.Run("unknown instance", func(t *testing.T) {
		req := withRouteParam(httptest.NewRequest("GET", "/", nil), "instanceID", "nope")
		rr := httptest.NewRecorder()
		a.handleInstanceLint(rr, req)

		if rr.Code != 404 {
			t.Fatalf("expected 404, got %d", rr.Code)
		}
	})
}

func TestHandleInstancesDelete(t *testing.T) {
	a := newTestAPI(t)
	admin := seedUser(t, a.db, "admin@example.com", "secret", models.RoleAdmin)

	t.Run("without runs deletes immediately", func(t *testing.T) {
		inst := seedTestInstance(t, a, "empty", sampleInstanceBody)

		req := withRouteParam(httptest.NewRequest("DELETE", "/", nil), "instanceID", inst.ID)
		req = asUser(req, admin)
		rr := httptest.NewRecorder()
		a.handleInstancesDelete(rr, req)

		if rr.Code != 204 {
			t.Fatalf("expected 204, got %d body=%s", rr.Code, rr.Body.String())
		}
		var count int64
		a.db.Model(&models.RosterInstance{}).Where("id = ?", inst.ID).Count(&count)
		if count != 0 {
			t.Error("instance still present")
		}
	})

	t.Run("with runs requires force", func(t *testing.T) {
		inst := seedTestInstance(t, a, "busy", sampleInstanceBody)
		run, err := a.runsSvc.ExecuteNow(context.Background(), inst.ID, admin.ID, false)
		if err != nil {
			t.Fatalf("ExecuteNow: %v", err)
		}

		req := withRouteParam(httptest.NewRequest("DELETE", "/", nil), "instanceID", inst.ID)
		req = asUser(req, admin)
		rr := httptest.NewRecorder()
		a.handleInstancesDelete(rr, req)

		if rr.Code != 409 {
			t.Fatalf("expected 409, got %d", rr.Code)
		}
		var conflict map[string]any
		if err := json.NewDecoder(rr.Body).Decode(&conflict); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if conflict["error"] != "instance_has_runs" {
			t.Errorf("error = %v", conflict["error"])
		}

		req = withRouteParam(httptest.NewRequest("DELETE", "/?force=true", nil), "instanceID", inst.ID)
		req = asUser(req, admin)
		rr = httptest.NewRecorder()
		a.handleInstancesDelete(rr, req)

		if rr.Code != 204 {
			t.Fatalf("forced delete: expected 204, got %d", rr.Code)
		}

		var runCount, assignmentCount int64
		a.db.Model(&models.SolveRun{}).Where("instance_id = ?", inst.ID).Count(&runCount)
		a.db.Model(&models.RunAssignment{}).Where("run_id = ?", run.ID).Count(&assignmentCount)
		if runCount != 0 || assignmentCount != 0 {
			t.Errorf("leftovers after forced delete: runs=%d assignments=%d", runCount, assignmentCount)
		}
	})
}

func TestHandleRunsCreate(t *testing.T) {
	a := newTestAPI(t)
	planner := seedUser(t, a.db, "planner@example.com", "secret", models.RolePlanner)
	inst := seedTestInstance(t, a, "ward-7", sampleInstanceBody)

	t.Run("default enqueues", func(t *testing.T) {
		req := withRouteParam(httptest.NewRequest("POST", "/", nil), "instanceID", inst.ID)
		req = asUser(req, planner)
		rr := httptest.NewRecorder()
		a.handleRunsCreate(rr, req)

		if rr.Code != 202 {
			t.Fatalf("expected 202, got %d body=%s", rr.Code, rr.Body.String())
		}
		var run models.SolveRun
		if err := json.NewDecoder(rr.Body).Decode(&run); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if run.Status != models.RunQueued {
			t.Errorf("status = %s, want queued", run.Status)
		}
		if run.RequestedBy != planner.ID {
			t.Errorf("requested_by = %q, want %q", run.RequestedBy, planner.ID)
		}
	})

	t.Run("wait solves inline", func(t *testing.T) {
		req := withRouteParam(httptest.NewRequest("POST", "/?wait=true", nil), "instanceID", inst.ID)
		req = asUser(req, planner)
		rr := httptest.NewRecorder()
		a.handleRunsCreate(rr, req)

		if rr.Code != 201 {
			t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
		}
		var run models.SolveRun
		if err := json.NewDecoder(rr.Body).Decode(&run); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if run.Status != models.RunCompleted {
			t.Fatalf("status = %s, want completed", run.Status)
		}
		if !run.Complete || run.Assignments != 5 {
			t.Errorf("complete=%v assignments=%d, want true/5", run.Complete, run.Assignments)
		}
	})

	t.Run("stop_early passes through", func(t *testing.T) {
		req := withRouteParam(
			httptest.NewRequest("POST", "/?wait=true", strings.NewReader(`{"stop_early":true}`)),
			"instanceID", inst.ID)
		req = asUser(req, planner)
		rr := httptest.NewRecorder()
		a.handleRunsCreate(rr, req)

		if rr.Code != 201 {
			t.Fatalf("expected 201, got %d", rr.Code)
		}
		var run models.SolveRun
		if err := json.NewDecoder(rr.Body).Decode(&run); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !run.StopEarly {
			t.Error("stop_early not recorded on the run")
		}
	})

	t.Run("unknown instance", func(t *testing.T) {
		req := withRouteParam(httptest.NewRequest("POST", "/", nil), "instanceID", "nope")
		req = asUser(req, planner)
		rr := httptest.NewRecorder()
		a.handleRunsCreate(rr, req)

		if rr.Code != 404 {
			t.Fatalf("expected 404, got %d", rr.Code)
		}
	})
}

func TestHandleInstanceRunsList(t *testing.T) {
	a := newTestAPI(t)
	inst := seedTestInstance(t, a, "ward-7", sampleInstanceBody)
	other := seedTestInstance(t, a, "ward-8", sampleInstanceBody)

	if _, err := a.runsSvc.ExecuteNow(context.Background(), inst.ID, "", false); err != nil {
		t.Fatalf("ExecuteNow: %v", err)
	}
	if _, err := a.runsSvc.ExecuteNow(context.Background(), inst.ID, "", true); err != nil {
		t.Fatalf("ExecuteNow: %v", err)
	}
	if _, err := a.runsSvc.ExecuteNow(context.Background(), other.ID, "", false); err != nil {
		t.Fatalf("ExecuteNow: %v", err)
	}

	req := withRouteParam(httptest.NewRequest("GET", "/", nil), "instanceID", inst.ID)
	rr := httptest.NewRecorder()
	a.handleInstanceRunsList(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Runs  []models.SolveRun `json:"runs"`
		Total int64             `json:"total"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 2 || len(body.Runs) != 2 {
		t.Fatalf("total = %d runs = %d, want 2/2", body.Total, len(body.Runs))
	}
	for _, run := range body.Runs {
		if run.InstanceID != inst.ID {
			t.Errorf("run %s belongs to %s", run.ID, run.InstanceID)
		}
	}
}
