package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"caseflow/assign"
	"caseflow/company"
	"caseflow/ingest"
	"caseflow/loan"
	"caseflow/ptp"
	"caseflow/worker"
)

type ctxKey int

const (
	ctxKeyWorkerID ctxKey = iota
	ctxKeyRole
)

type workerService interface {
	Register(ctx context.Context, req worker.RegisterRequest) (*worker.Worker, error)
	Login(ctx context.Context, req worker.LoginRequest) (worker.LoginResult, error)
	Approve(ctx context.Context, workerID string) (*worker.Worker, error)
	GetByID(ctx context.Context, workerID string) (*worker.Worker, error)
	ListEligible(ctx context.Context, role worker.Role) ([]string, error)
	VerifyToken(tokenString string) (string, worker.Role, error)
}

type reconcileService interface {
	Reconcile(ctx context.Context, rows []ingest.Row, policy loan.Policy) (loan.Report, error)
}

type assignService interface {
	Assign(ctx context.Context, params assign.Params) (assign.Result, error)
	LoadOffset(ctx context.Context, mode assign.Mode) (int, error)
	ResetOffset(ctx context.Context, mode assign.Mode) error
}

type loanDirectory interface {
	Unassigned(ctx context.Context, filters loan.Filters) ([]loan.Loan, error)
}

type companyService interface {
	Upsert(ctx context.Context, maskedName, canonicalName, notes string) (company.Mapping, error)
	Resolve(ctx context.Context, maskedName string) (string, error)
	List(ctx context.Context) ([]company.Mapping, error)
}

type ptpService interface {
	Record(ctx context.Context, agreementNo, agentName string, amount float64, dueDate time.Time) (ptp.Promise, error)
	List(ctx context.Context, agreementNo string) ([]ptp.Promise, error)
	Settle(ctx context.Context, promiseID string, status ptp.Status) (ptp.Promise, error)
}

// Server wires the domain services behind the JSON API.
type Server struct {
	workers    workerService
	reconciler reconcileService
	assigner   assignService
	loans      loanDirectory
	companies  companyService
	promises   ptpService
	log        *logrus.Entry
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/workers/register", s.handleRegister)
	mux.HandleFunc("/api/workers/login", s.handleLogin)
	mux.HandleFunc("/api/workers/", s.requireRole(s.handleWorkerDetail, worker.RoleSupervisor))
	mux.HandleFunc("/api/uploads", s.requireRole(s.handleUpload, worker.RoleSupervisor))
	mux.HandleFunc("/api/loans/unassigned", s.requireAuth(s.handleUnassignedLoans))
	mux.HandleFunc("/api/assignments", s.requireRole(s.handleAssignments, worker.RoleSupervisor))
	mux.HandleFunc("/api/assignments/cursor/reset", s.requireRole(s.handleCursorReset, worker.RoleSupervisor))
	mux.HandleFunc("/api/companies", s.requireAuth(s.handleCompanies))
	mux.HandleFunc("/api/promises", s.requireAuth(s.handlePromises))
	mux.HandleFunc("/api/promises/", s.requireAuth(s.handlePromiseDetail))
	return mux
}

// requireAuth checks the bearer token and stores the worker identity in the
// request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		workerID, role, err := s.workers.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyWorkerID, workerID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) requireRole(next http.HandlerFunc, roles ...worker.Role) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		role, _ := r.Context().Value(ctxKeyRole).(worker.Role)
		for _, allowed := range roles {
			if role == allowed {
				next(w, r)
				return
			}
		}
		writeError(w, http.StatusForbidden, "insufficient role")
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req worker.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	wk, err := s.workers.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, worker.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, worker.ErrDuplicateUsername):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.serverError(w, r, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, workerResponseFrom(*wk))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req worker.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	result, err := s.workers.Login(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, worker.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, worker.ErrNotApproved):
			writeError(w, http.StatusForbidden, "account pending approval")
		default:
			s.serverError(w, r, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:  result.Token,
		Worker: workerResponseFrom(result.Worker),
	})
}

// handleWorkerDetail serves POST /api/workers/{id}/approve.
func (s *Server) handleWorkerDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/workers/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || action != "approve" {
		writeError(w, http.StatusBadRequest, "unknown worker action")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	wk, err := s.workers.Approve(r.Context(), id)
	if err != nil {
		if errors.Is(err, worker.ErrNotFound) {
			writeError(w, http.StatusNotFound, "worker not found")
			return
		}
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, workerResponseFrom(*wk))
}

// handleUpload ingests a portfolio file and reconciles it against the loan
// store.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file part required")
		return
	}
	defer file.Close()

	var rows []ingest.Row
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".xlsx":
		rows, err = ingest.ReadXLSX(file)
	default:
		rows, err = ingest.ReadCSV(file)
	}
	if err != nil {
		if errors.Is(err, ingest.ErrMissingColumn) || errors.Is(err, ingest.ErrEmptyFile) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.serverError(w, r, err)
		return
	}

	policy := loan.Policy{
		DefaultAssignee: r.FormValue("default_assignee"),
		UpdateExisting:  r.FormValue("update_existing") == "true",
	}
	if policy.DefaultAssignee == "" {
		policy.DefaultAssignee = loan.AssigneeUnassigned
	}

	report, err := s.reconciler.Reconcile(r.Context(), rows, policy)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, reportResponseFrom(report))
}

func (s *Server) handleUnassignedLoans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filters, err := filtersFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	loans, err := s.loans.Unassigned(r.Context(), filters)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	items := make([]loanResponse, len(loans))
	for i, l := range loans {
		items[i] = loanResponseFrom(l)
	}
	writeJSON(w, http.StatusOK, listResponse[loanResponse]{Items: items, Total: len(items)})
}

type assignmentRequest struct {
	Mode            string   `json:"mode"`
	AgreementNos    []string `json:"agreementNos"`
	Workers         []string `json:"workers"`
	Shuffle         bool     `json:"shuffle"`
	Limit           int      `json:"limit"`
	StartOffset     *int     `json:"startOffset"`
	UseStoredOffset bool     `json:"useStoredOffset"`
	RememberOffset  bool     `json:"rememberOffset"`
	TracerCode      string   `json:"tracerCode"`
	MaskedCompany   string   `json:"maskedCompany"`
}

// handleAssignments runs one round-robin distribution. Loans and workers not
// supplied explicitly are resolved from the store: the current unassigned
// selection and the approved pool for the mode's role.
func (s *Server) handleAssignments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req assignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	mode := assign.Mode(req.Mode)
	if mode != assign.ModeTracer && mode != assign.ModeAgent {
		writeError(w, http.StatusBadRequest, "mode must be tracer or agent")
		return
	}

	workers := req.Workers
	if len(workers) == 0 {
		role := worker.RoleTracer
		if mode == assign.ModeAgent {
			role = worker.RoleAgent
		}
		var err error
		workers, err = s.workers.ListEligible(r.Context(), role)
		if err != nil {
			s.serverError(w, r, err)
			return
		}
	}

	agreementNos := req.AgreementNos
	if len(agreementNos) == 0 {
		loans, err := s.loans.Unassigned(r.Context(), loan.Filters{
			TracerCode:    req.TracerCode,
			MaskedCompany: req.MaskedCompany,
		})
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		agreementNos = make([]string, len(loans))
		for i, l := range loans {
			agreementNos[i] = l.AgreementNo
		}
	}

	startOffset := 0
	switch {
	case req.StartOffset != nil:
		startOffset = *req.StartOffset
	case req.UseStoredOffset:
		var err error
		startOffset, err = s.assigner.LoadOffset(r.Context(), mode)
		if err != nil {
			s.serverError(w, r, err)
			return
		}
	}

	result, err := s.assigner.Assign(r.Context(), assign.Params{
		Mode:         mode,
		AgreementNos: agreementNos,
		Workers:      workers,
		Options: assign.Options{
			Shuffle:        req.Shuffle,
			Limit:          req.Limit,
			StartOffset:    startOffset,
			RememberOffset: req.RememberOffset,
		},
	})
	if err != nil {
		if errors.Is(err, assign.ErrInsufficientWorkers) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.serverError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, assignmentResponse{
		RunID:      result.RunID,
		Assigned:   result.Assigned,
		Refused:    result.Refused,
		PerWorker:  result.PerWorker,
		NextOffset: result.NextOffset,
	})
}

func (s *Server) handleCursorReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	mode := assign.Mode(req.Mode)
	if mode != assign.ModeTracer && mode != assign.ModeAgent {
		writeError(w, http.StatusBadRequest, "mode must be tracer or agent")
		return
	}

	if err := s.assigner.ResetOffset(r.Context(), mode); err != nil {
		s.serverError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompanies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		mappings, err := s.companies.List(r.Context())
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		items := make([]companyResponse, len(mappings))
		for i, m := range mappings {
			items[i] = companyResponseFrom(m)
		}
		writeJSON(w, http.StatusOK, listResponse[companyResponse]{Items: items, Total: len(items)})

	case http.MethodPost:
		var req struct {
			MaskedName    string `json:"maskedName"`
			CanonicalName string `json:"canonicalName"`
			Notes         string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		m, err := s.companies.Upsert(r.Context(), req.MaskedName, req.CanonicalName, req.Notes)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, companyResponseFrom(m))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handlePromises(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		agreementNo := r.URL.Query().Get("agreement_no")
		if agreementNo == "" {
			writeError(w, http.StatusBadRequest, "agreement_no required")
			return
		}
		promises, err := s.promises.List(r.Context(), agreementNo)
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		items := make([]promiseResponse, len(promises))
		for i, p := range promises {
			items[i] = promiseResponseFrom(p)
		}
		writeJSON(w, http.StatusOK, listResponse[promiseResponse]{Items: items, Total: len(items)})

	case http.MethodPost:
		role, _ := r.Context().Value(ctxKeyRole).(worker.Role)
		if role != worker.RoleAgent {
			writeError(w, http.StatusForbidden, "only agents record promises")
			return
		}
		workerID, _ := r.Context().Value(ctxKeyWorkerID).(string)
		wk, err := s.workers.GetByID(r.Context(), workerID)
		if err != nil {
			s.serverError(w, r, err)
			return
		}

		var req struct {
			AgreementNo string  `json:"agreementNo"`
			Amount      float64 `json:"amount"`
			DueDate     string  `json:"dueDate"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		dueDate, err := time.Parse("2006-01-02", req.DueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "dueDate must be YYYY-MM-DD")
			return
		}

		p, err := s.promises.Record(r.Context(), req.AgreementNo, wk.Username, req.Amount, dueDate)
		if err != nil {
			if errors.Is(err, ptp.ErrForbidden) {
				writeError(w, http.StatusNotFound, "loan not assigned to agent")
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, promiseResponseFrom(p))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handlePromiseDetail serves PATCH /api/promises/{id}.
func (s *Server) handlePromiseDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/promises/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "promise id required")
		return
	}
	if r.Method != http.MethodPatch {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	p, err := s.promises.Settle(r.Context(), id, ptp.Status(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, ptp.ErrNotFound):
			writeError(w, http.StatusNotFound, "promise not found")
		case errors.Is(err, ptp.ErrBadStatus):
			writeError(w, http.StatusBadRequest, "invalid status transition")
		default:
			s.serverError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, promiseResponseFrom(p))
}

func filtersFromQuery(r *http.Request) (loan.Filters, error) {
	q := r.URL.Query()
	filters := loan.Filters{
		TracerCode:    q.Get("tracer_code"),
		MaskedCompany: q.Get("masked_company"),
	}
	for _, bound := range []struct {
		param  string
		target **time.Time
	}{
		{"from", &filters.From},
		{"to", &filters.To},
	} {
		raw := q.Get(bound.param)
		if raw == "" {
			continue
		}
		ts, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return loan.Filters{}, errors.New(bound.param + " must be YYYY-MM-DD")
		}
		*bound.target = &ts
	}
	return filters, nil
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	if s.log != nil {
		s.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

type loginResponse struct {
	Token  string         `json:"token"`
	Worker workerResponse `json:"worker"`
}

type workerResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
	Approved bool   `json:"approved"`
}

func workerResponseFrom(w worker.Worker) workerResponse {
	return workerResponse{
		ID:       w.ID,
		Username: w.Username,
		FullName: w.FullName,
		Role:     string(w.Role),
		Approved: w.Approved,
	}
}

type loanResponse struct {
	AgreementNo   string `json:"agreementNo"`
	CustomerName  string `json:"customerName"`
	Employer      string `json:"employer"`
	MaskedCompany string `json:"maskedCompany"`
	ContactNo     string `json:"contactNo"`
	Address       string `json:"address"`
	Outstanding   string `json:"outstanding"`
	AssignedTo    string `json:"assignedTo"`
	TracerCode    string `json:"tracerCode"`
}

func loanResponseFrom(l loan.Loan) loanResponse {
	return loanResponse{
		AgreementNo:   l.AgreementNo,
		CustomerName:  l.CustomerName,
		Employer:      l.Employer,
		MaskedCompany: l.MaskedCompany,
		ContactNo:     l.ContactNo,
		Address:       l.Address,
		Outstanding:   l.Outstanding,
		AssignedTo:    l.AssignedTo,
		TracerCode:    l.TracerCode,
	}
}

type skipResponse struct {
	AgreementNo string `json:"agreementNo"`
	Reason      string `json:"reason"`
	Detail      string `json:"detail,omitempty"`
}

type reportResponse struct {
	BatchID  string         `json:"batchId"`
	Inserted int            `json:"inserted"`
	Updated  int            `json:"updated"`
	Skipped  int            `json:"skipped"`
	Skips    []skipResponse `json:"skips"`
}

func reportResponseFrom(report loan.Report) reportResponse {
	skips := make([]skipResponse, len(report.Skips))
	for i, s := range report.Skips {
		skips[i] = skipResponse{
			AgreementNo: s.AgreementNo,
			Reason:      string(s.Reason),
			Detail:      s.Detail,
		}
	}
	return reportResponse{
		BatchID:  report.BatchID,
		Inserted: report.Inserted,
		Updated:  report.Updated,
		Skipped:  report.Skipped(),
		Skips:    skips,
	}
}

type assignmentResponse struct {
	RunID      string         `json:"runId"`
	Assigned   int            `json:"assigned"`
	Refused    int            `json:"refused"`
	PerWorker  map[string]int `json:"perWorker"`
	NextOffset int            `json:"nextOffset"`
}

type companyResponse struct {
	MaskedName    string `json:"maskedName"`
	CanonicalName string `json:"canonicalName"`
	Notes         string `json:"notes"`
	UpdatedAt     string `json:"updatedAt"`
}

func companyResponseFrom(m company.Mapping) companyResponse {
	return companyResponse{
		MaskedName:    m.MaskedName,
		CanonicalName: m.CanonicalName,
		Notes:         m.Notes,
		UpdatedAt:     m.UpdatedAt.Format(time.RFC3339),
	}
}

type promiseResponse struct {
	ID          string  `json:"id"`
	AgreementNo string  `json:"agreementNo"`
	AgentName   string  `json:"agentName"`
	Amount      float64 `json:"amount"`
	DueDate     string  `json:"dueDate"`
	Status      string  `json:"status"`
}

func promiseResponseFrom(p ptp.Promise) promiseResponse {
	return promiseResponse{
		ID:          p.ID,
		AgreementNo: p.AgreementNo,
		AgentName:   p.AgentName,
		Amount:      p.Amount,
		DueDate:     p.DueDate.Format("2006-01-02"),
		Status:      string(p.Status),
	}
}
