package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"caseflow/assign"
	"caseflow/company"
	"caseflow/ingest"
	"caseflow/loan"
	"caseflow/ptp"
	"caseflow/worker"
)

type stubWorkers struct {
	registerFn     func(ctx context.Context, req worker.RegisterRequest) (*worker.Worker, error)
	loginFn        func(ctx context.Context, req worker.LoginRequest) (worker.LoginResult, error)
	approveFn      func(ctx context.Context, workerID string) (*worker.Worker, error)
	getByIDFn      func(ctx context.Context, workerID string) (*worker.Worker, error)
	listEligibleFn func(ctx context.Context, role worker.Role) ([]string, error)
	verifyFn       func(tokenString string) (string, worker.Role, error)
}

func (s *stubWorkers) Register(ctx context.Context, req worker.RegisterRequest) (*worker.Worker, error) {
	return s.registerFn(ctx, req)
}

func (s *stubWorkers) Login(ctx context.Context, req worker.LoginRequest) (worker.LoginResult, error) {
	return s.loginFn(ctx, req)
}

func (s *stubWorkers) Approve(ctx context.Context, workerID string) (*worker.Worker, error) {
	return s.approveFn(ctx, workerID)
}

func (s *stubWorkers) GetByID(ctx context.Context, workerID string) (*worker.Worker, error) {
	return s.getByIDFn(ctx, workerID)
}

func (s *stubWorkers) ListEligible(ctx context.Context, role worker.Role) ([]string, error) {
	return s.listEligibleFn(ctx, role)
}

func (s *stubWorkers) VerifyToken(tokenString string) (string, worker.Role, error) {
	return s.verifyFn(tokenString)
}

// verifyAs returns a token verifier accepting any token as the given identity.
func verifyAs(workerID string, role worker.Role) func(string) (string, worker.Role, error) {
	return func(string) (string, worker.Role, error) {
		return workerID, role, nil
	}
}

type stubReconciler struct {
	gotRows   []ingest.Row
	gotPolicy loan.Policy
	report    loan.Report
	err       error
}

func (s *stubReconciler) Reconcile(ctx context.Context, rows []ingest.Row, policy loan.Policy) (loan.Report, error) {
	s.gotRows = rows
	s.gotPolicy = policy
	return s.report, s.err
}

type stubAssigner struct {
	gotParams assign.Params
	result    assign.Result
	err       error
	offset    int
	resets    []assign.Mode
}

func (s *stubAssigner) Assign(ctx context.Context, params assign.Params) (assign.Result, error) {
	s.gotParams = params
	return s.result, s.err
}

func (s *stubAssigner) LoadOffset(ctx context.Context, mode assign.Mode) (int, error) {
	return s.offset, nil
}

func (s *stubAssigner) ResetOffset(ctx context.Context, mode assign.Mode) error {
	s.resets = append(s.resets, mode)
	return nil
}

type stubDirectory struct {
	gotFilters loan.Filters
	loans      []loan.Loan
	err        error
}

func (s *stubDirectory) Unassigned(ctx context.Context, filters loan.Filters) ([]loan.Loan, error) {
	s.gotFilters = filters
	return s.loans, s.err
}

type stubCompanies struct {
	mappings []company.Mapping
	upsertFn func(ctx context.Context, maskedName, canonicalName, notes string) (company.Mapping, error)
}

func (s *stubCompanies) Upsert(ctx context.Context, maskedName, canonicalName, notes string) (company.Mapping, error) {
	return s.upsertFn(ctx, maskedName, canonicalName, notes)
}

func (s *stubCompanies) Resolve(ctx context.Context, maskedName string) (string, error) {
	for _, m := range s.mappings {
		if m.MaskedName == maskedName {
			return m.CanonicalName, nil
		}
	}
	return "", company.ErrNotFound
}

func (s *stubCompanies) List(ctx context.Context) ([]company.Mapping, error) {
	return s.mappings, nil
}

type stubPromises struct {
	recordFn func(ctx context.Context, agreementNo, agentName string, amount float64, dueDate time.Time) (ptp.Promise, error)
	settleFn func(ctx context.Context, promiseID string, status ptp.Status) (ptp.Promise, error)
	promises []ptp.Promise
}

func (s *stubPromises) Record(ctx context.Context, agreementNo, agentName string, amount float64, dueDate time.Time) (ptp.Promise, error) {
	return s.recordFn(ctx, agreementNo, agentName, amount, dueDate)
}

func (s *stubPromises) List(ctx context.Context, agreementNo string) ([]ptp.Promise, error) {
	return s.promises, nil
}

func (s *stubPromises) Settle(ctx context.Context, promiseID string, status ptp.Status) (ptp.Promise, error) {
	return s.settleFn(ctx, promiseID, status)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(target); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHandleRegister(t *testing.T) {
	srv := &Server{workers: &stubWorkers{
		registerFn: func(_ context.Context, req worker.RegisterRequest) (*worker.Worker, error) {
			return &worker.Worker{ID: "w-1", Username: req.Username, FullName: req.FullName, Role: worker.RoleTracer}, nil
		},
	}}

	body := `{"username":"aung","full_name":"Aung Kyaw","password":"longenough"}`
	req := httptest.NewRequest(http.MethodPost, "/api/workers/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.handleRegister(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	var resp workerResponse
	decodeBody(t, rec, &resp)
	if resp.Username != "aung" || resp.Approved {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleRegisterErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"weak password", worker.ErrWeakPassword, http.StatusBadRequest},
		{"duplicate username", worker.ErrDuplicateUsername, http.StatusConflict},
		{"storage failure", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := &Server{workers: &stubWorkers{
				registerFn: func(context.Context, worker.RegisterRequest) (*worker.Worker, error) {
					return nil, tc.err
				},
			}}
			req := httptest.NewRequest(http.MethodPost, "/api/workers/register", strings.NewReader(`{}`))
			rec := httptest.NewRecorder()
			srv.handleRegister(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestHandleLoginNotApproved(t *testing.T) {
	srv := &Server{workers: &stubWorkers{
		loginFn: func(context.Context, worker.LoginRequest) (worker.LoginResult, error) {
			return worker.LoginResult{}, worker.ErrNotApproved
		},
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/workers/login", strings.NewReader(`{"username":"x","password":"y"}`))
	rec := httptest.NewRecorder()
	srv.handleLogin(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestRequireAuthMissingToken(t *testing.T) {
	srv := &Server{workers: &stubWorkers{verifyFn: verifyAs("w-1", worker.RoleTracer)}}
	handler := srv.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/loans/unassigned", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireRoleRejectsOtherRoles(t *testing.T) {
	srv := &Server{workers: &stubWorkers{verifyFn: verifyAs("w-1", worker.RoleTracer)}}
	handler := srv.requireRole(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, worker.RoleSupervisor)

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func multipartUpload(t *testing.T, filename, contents string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(contents)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func TestHandleUploadCSV(t *testing.T) {
	reconciler := &stubReconciler{report: loan.Report{BatchID: "b-1", Inserted: 2}}
	srv := &Server{reconciler: reconciler}

	csv := "Agreement_No,Customer_Name,Outstanding\nAG-1,Ma Hla,1200.50\nAG-2,Ko Zaw,900\n"
	body, contentType := multipartUpload(t, "portfolio.csv", csv, map[string]string{
		"default_assignee": "Thiha",
		"update_existing":  "true",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.handleUpload(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(reconciler.gotRows) != 2 {
		t.Fatalf("rows passed = %d, want 2", len(reconciler.gotRows))
	}
	if reconciler.gotRows[0].AgreementNo != "AG-1" {
		t.Fatalf("first row agreement = %q", reconciler.gotRows[0].AgreementNo)
	}
	if reconciler.gotPolicy.DefaultAssignee != "Thiha" || !reconciler.gotPolicy.UpdateExisting {
		t.Fatalf("policy = %+v", reconciler.gotPolicy)
	}

	var resp reportResponse
	decodeBody(t, rec, &resp)
	if resp.BatchID != "b-1" || resp.Inserted != 2 {
		t.Fatalf("report = %+v", resp)
	}
}

func TestHandleUploadMissingColumn(t *testing.T) {
	srv := &Server{reconciler: &stubReconciler{}}

	body, contentType := multipartUpload(t, "portfolio.csv", "Customer_Name\nMa Hla\n", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.handleUpload(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleUnassignedLoansFilters(t *testing.T) {
	directory := &stubDirectory{loans: []loan.Loan{
		{AgreementNo: "AG-1", CustomerName: "Ma Hla"},
	}}
	srv := &Server{loans: directory}

	req := httptest.NewRequest(http.MethodGet, "/api/loans/unassigned?tracer_code=TRC-ABC-260101&from=2026-01-01", nil)
	rec := httptest.NewRecorder()
	srv.handleUnassignedLoans(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if directory.gotFilters.TracerCode != "TRC-ABC-260101" {
		t.Fatalf("tracer code filter = %q", directory.gotFilters.TracerCode)
	}
	if directory.gotFilters.From == nil || directory.gotFilters.From.Format("2006-01-02") != "2026-01-01" {
		t.Fatalf("from filter = %v", directory.gotFilters.From)
	}

	var resp listResponse[loanResponse]
	decodeBody(t, rec, &resp)
	if resp.Total != 1 || resp.Items[0].AgreementNo != "AG-1" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestHandleUnassignedLoansBadDate(t *testing.T) {
	srv := &Server{loans: &stubDirectory{}}

	req := httptest.NewRequest(http.MethodGet, "/api/loans/unassigned?from=yesterday", nil)
	rec := httptest.NewRecorder()
	srv.handleUnassignedLoans(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleAssignmentsResolvesPools(t *testing.T) {
	assigner := &stubAssigner{
		result: assign.Result{RunID: "run-1", Assigned: 3, PerWorker: map[string]int{"A": 2, "B": 1}, NextOffset: 1},
		offset: 2,
	}
	directory := &stubDirectory{loans: []loan.Loan{
		{AgreementNo: "AG-1"}, {AgreementNo: "AG-2"}, {AgreementNo: "AG-3"},
	}}
	srv := &Server{
		workers: &stubWorkers{
			verifyFn: verifyAs("sup-1", worker.RoleSupervisor),
			listEligibleFn: func(_ context.Context, role worker.Role) ([]string, error) {
				if role != worker.RoleTracer {
					t.Fatalf("role = %q, want tracer", role)
				}
				return []string{"A", "B"}, nil
			},
		},
		assigner: assigner,
		loans:    directory,
	}

	body := `{"mode":"tracer","useStoredOffset":true,"rememberOffset":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/assignments", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.handleAssignments(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := assigner.gotParams.AgreementNos; len(got) != 3 || got[0] != "AG-1" {
		t.Fatalf("agreement pool = %v", got)
	}
	if got := assigner.gotParams.Workers; len(got) != 2 {
		t.Fatalf("worker pool = %v", got)
	}
	if assigner.gotParams.Options.StartOffset != 2 {
		t.Fatalf("start offset = %d, want stored 2", assigner.gotParams.Options.StartOffset)
	}
	if !assigner.gotParams.Options.RememberOffset {
		t.Fatal("remember offset not forwarded")
	}

	var resp assignmentResponse
	decodeBody(t, rec, &resp)
	if resp.RunID != "run-1" || resp.Assigned != 3 || resp.NextOffset != 1 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestHandleAssignmentsExplicitOffsetWins(t *testing.T) {
	assigner := &stubAssigner{offset: 7}
	srv := &Server{
		workers:  &stubWorkers{verifyFn: verifyAs("sup-1", worker.RoleSupervisor)},
		assigner: assigner,
	}

	body := `{"mode":"agent","agreementNos":["AG-1"],"workers":["A"],"startOffset":3,"useStoredOffset":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/assignments", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.handleAssignments(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if assigner.gotParams.Options.StartOffset != 3 {
		t.Fatalf("start offset = %d, want explicit 3", assigner.gotParams.Options.StartOffset)
	}
}

func TestHandleAssignmentsInsufficientWorkers(t *testing.T) {
	srv := &Server{
		workers: &stubWorkers{
			verifyFn: verifyAs("sup-1", worker.RoleSupervisor),
			listEligibleFn: func(context.Context, worker.Role) ([]string, error) {
				return nil, nil
			},
		},
		assigner: &stubAssigner{err: assign.ErrInsufficientWorkers},
	}

	body := `{"mode":"tracer","agreementNos":["AG-1"],"workers":[]}`
	req := httptest.NewRequest(http.MethodPost, "/api/assignments", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.handleAssignments(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestHandleAssignmentsBadMode(t *testing.T) {
	srv := &Server{}

	req := httptest.NewRequest(http.MethodPost, "/api/assignments", strings.NewReader(`{"mode":"manager"}`))
	rec := httptest.NewRecorder()
	srv.handleAssignments(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleCursorReset(t *testing.T) {
	assigner := &stubAssigner{}
	srv := &Server{assigner: assigner}

	req := httptest.NewRequest(http.MethodPost, "/api/assignments/cursor/reset", strings.NewReader(`{"mode":"agent"}`))
	rec := httptest.NewRecorder()
	srv.handleCursorReset(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if len(assigner.resets) != 1 || assigner.resets[0] != assign.ModeAgent {
		t.Fatalf("resets = %v", assigner.resets)
	}
}

func TestHandleCompaniesUpsertAndList(t *testing.T) {
	companies := &stubCompanies{
		upsertFn: func(_ context.Context, maskedName, canonicalName, notes string) (company.Mapping, error) {
			return company.Mapping{MaskedName: maskedName, CanonicalName: canonicalName, Notes: notes}, nil
		},
		mappings: []company.Mapping{{MaskedName: "AB***LTD", CanonicalName: "Aung Bros Ltd"}},
	}
	srv := &Server{companies: companies}

	body := `{"maskedName":"AB***LTD","canonicalName":"Aung Bros Ltd"}`
	req := httptest.NewRequest(http.MethodPost, "/api/companies", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.handleCompanies(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/companies", nil)
	rec = httptest.NewRecorder()
	srv.handleCompanies(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var resp listResponse[companyResponse]
	decodeBody(t, rec, &resp)
	if resp.Total != 1 || resp.Items[0].CanonicalName != "Aung Bros Ltd" {
		t.Fatalf("list = %+v", resp)
	}
}

func TestHandlePromisesRecordAgentOnly(t *testing.T) {
	promises := &stubPromises{
		recordFn: func(_ context.Context, agreementNo, agentName string, amount float64, dueDate time.Time) (ptp.Promise, error) {
			return ptp.Promise{ID: "p-1", AgreementNo: agreementNo, AgentName: agentName, Amount: amount, DueDate: dueDate, Status: ptp.StatusOpen}, nil
		},
	}
	workers := &stubWorkers{
		verifyFn: verifyAs("agent-1", worker.RoleAgent),
		getByIDFn: func(_ context.Context, workerID string) (*worker.Worker, error) {
			return &worker.Worker{ID: workerID, Username: "mya"}, nil
		},
	}
	srv := &Server{workers: workers, promises: promises}
	handler := srv.requireAuth(srv.handlePromises)

	body := `{"agreementNo":"AG-1","amount":500,"dueDate":"2026-09-15"}`
	req := httptest.NewRequest(http.MethodPost, "/api/promises", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp promiseResponse
	decodeBody(t, rec, &resp)
	if resp.AgentName != "mya" || resp.DueDate != "2026-09-15" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestHandlePromisesRecordRejectsTracer(t *testing.T) {
	workers := &stubWorkers{verifyFn: verifyAs("t-1", worker.RoleTracer)}
	srv := &Server{workers: workers, promises: &stubPromises{}}
	handler := srv.requireAuth(srv.handlePromises)

	req := httptest.NewRequest(http.MethodPost, "/api/promises", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestHandlePromiseDetailSettle(t *testing.T) {
	promises := &stubPromises{
		settleFn: func(_ context.Context, promiseID string, status ptp.Status) (ptp.Promise, error) {
			if promiseID != "p-1" {
				return ptp.Promise{}, ptp.ErrNotFound
			}
			return ptp.Promise{ID: promiseID, Status: status}, nil
		},
	}
	srv := &Server{promises: promises}

	req := httptest.NewRequest(http.MethodPatch, "/api/promises/p-1", strings.NewReader(`{"status":"kept"}`))
	rec := httptest.NewRecorder()
	srv.handlePromiseDetail(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPatch, "/api/promises/p-9", strings.NewReader(`{"status":"kept"}`))
	rec = httptest.NewRecorder()
	srv.handlePromiseDetail(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing promise status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
