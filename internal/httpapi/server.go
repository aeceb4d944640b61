package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"

	"github.com/joelkehle/projectfacts/internal/consolidate"
	"github.com/joelkehle/projectfacts/internal/ingest"
	"github.com/joelkehle/projectfacts/internal/insight"
	"github.com/joelkehle/projectfacts/internal/reconcile"
	"github.com/joelkehle/projectfacts/internal/store"
)

// Ingestor runs the per-document intake path.
type Ingestor interface {
	Ingest(ctx context.Context, doc *insight.Document) (*ingest.Result, error)
}

// Consolidator runs the full consolidation pipeline for one project.
type Consolidator interface {
	Run(ctx context.Context, projectID string, progress consolidate.ProgressFn) (*consolidate.Result, error)
}

// Resolver closes a conflict with a terminal resolution.
type Resolver interface {
	Resolve(conflictID string, status insight.ResolutionStatus, mergedText string) error
}

// runStatus tracks one project's in-flight or most recent consolidation.
type runStatus struct {
	Running   bool                 `json:"running"`
	StartedAt time.Time            `json:"started_at"`
	Progress  consolidate.Progress `json:"progress"`
	Result    *consolidate.Result  `json:"result,omitempty"`
	Error     string               `json:"error,omitempty"`
}

type Server struct {
	store    store.Store
	ingestor Ingestor
	pipeline Consolidator
	resolver Resolver

	mu   sync.Mutex
	runs map[string]*runStatus
}

func NewServer(st store.Store, ingestor Ingestor, pipeline Consolidator, resolver Resolver) http.Handler {
	s := &Server{
		store:    st,
		ingestor: ingestor,
		pipeline: pipeline,
		resolver: resolver,
		runs:     map[string]*runStatus{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/projects/", s.handleProjects)
	mux.HandleFunc("/v1/conflicts/", s.handleConflictResolve)
	mux.HandleFunc("/v1/health", s.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"ok":    false,
		"error": map[string]any{"message": message},
	})
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte("{}"), nil
	}
	blob, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		blob = []byte("{}")
	}
	return blob, nil
}

func decodeJSON(r *http.Request, dst any) error {
	blob, err := readBody(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(blob, dst)
}

func methodOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// handleProjects dispatches /v1/projects/{id}/{resource}.
func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/projects/")
	projectID, resource, _ := strings.Cut(path, "/")
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch strings.TrimSuffix(resource, "/") {
	case "documents":
		s.handleUploadDocument(w, r, projectID)
	case "facts":
		s.handleListFacts(w, r, projectID)
	case "conflicts":
		s.handleListConflicts(w, r, projectID)
	case "narratives":
		s.handleListNarratives(w, r, projectID)
	case "record":
		s.handleProjectRecord(w, r, projectID)
	case "consolidate":
		s.handleConsolidate(w, r, projectID)
	case "consolidate/status":
		s.handleConsolidateStatus(w, r, projectID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request, projectID string) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Name    string `json:"name"`
		DocType string `json:"doc_type"`
		Text    string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, 400, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, 400, "text is required")
		return
	}

	doc := &insight.Document{
		ProjectID: projectID,
		Name:      strings.TrimSpace(req.Name),
		DocType:   strings.TrimSpace(req.DocType),
		Text:      req.Text,
	}
	res, err := s.ingestor.Ingest(r.Context(), doc)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true, "result": res})
}

func (s *Server) handleListFacts(w http.ResponseWriter, r *http.Request, projectID string) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	facts, err := s.store.LiveByProject(projectID)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}

	grouped := map[string][]insight.Fact{}
	for _, f := range facts {
		section := insight.NormalizeSection(f.Category)
		grouped[section] = append(grouped[section], f)
	}

	sections := make([]map[string]any, 0, len(grouped))
	for _, name := range insight.Sections() {
		group, ok := grouped[name]
		if !ok {
			continue
		}
		sections = append(sections, map[string]any{
			"section": name,
			"facts":   group,
		})
	}
	writeJSON(w, 200, map[string]any{"project_id": projectID, "sections": sections})
}

// conflictSide is one fact's view inside a pending conflict.
type conflictSide struct {
	FactID      string `json:"fact_id"`
	Statement   string `json:"statement"`
	Confidence  int    `json:"confidence"`
	SourceCount int    `json:"source_count"`
}

func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request, projectID string) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	pending, err := s.store.PendingConflicts(projectID)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}

	out := make([]map[string]any, 0, len(pending))
	for _, c := range pending {
		entry := map[string]any{
			"id":            c.ID,
			"conflict_type": c.ConflictType,
			"created_at":    c.CreatedAt,
		}
		if a, err := s.store.GetFact(c.FactAID); err == nil {
			entry["canonical_key"] = a.CanonicalKey
			entry["fact_a"] = sideOf(a)
		}
		if b, err := s.store.GetFact(c.FactBID); err == nil {
			entry["fact_b"] = sideOf(b)
		}
		out = append(out, entry)
	}
	writeJSON(w, 200, map[string]any{"project_id": projectID, "conflicts": out})
}

func sideOf(f *insight.Fact) conflictSide {
	return conflictSide{
		FactID:      f.ID,
		Statement:   f.Statement,
		Confidence:  f.Confidence,
		SourceCount: len(f.SourceDocumentIDs),
	}
}

func (s *Server) handleListNarratives(w http.ResponseWriter, r *http.Request, projectID string) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	narratives, err := s.store.NarrativesByProject(projectID)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}

	out := make([]map[string]any, 0, len(narratives))
	for _, n := range narratives {
		var buf bytes.Buffer
		html := ""
		if err := goldmark.Convert([]byte(n.Text), &buf); err == nil {
			html = buf.String()
		}
		out = append(out, map[string]any{
			"section":    n.Section,
			"markdown":   n.Text,
			"html":       html,
			"updated_at": n.UpdatedAt,
		})
	}
	writeJSON(w, 200, map[string]any{"project_id": projectID, "narratives": out})
}

func (s *Server) handleProjectRecord(w http.ResponseWriter, r *http.Request, projectID string) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	record, err := s.store.GetProjectRecord(projectID)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, record)
}

// handleConsolidate starts an async pipeline run. One run per project at a
// time; a second request while one is running gets 409.
func (s *Server) handleConsolidate(w http.ResponseWriter, r *http.Request, projectID string) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}

	s.mu.Lock()
	if st, ok := s.runs[projectID]; ok && st.Running {
		s.mu.Unlock()
		writeError(w, 409, "consolidation already running for this project")
		return
	}
	status := &runStatus{Running: true, StartedAt: time.Now().UTC()}
	s.runs[projectID] = status
	s.mu.Unlock()

	go func() {
		res, err := s.pipeline.Run(context.Background(), projectID, func(pr consolidate.Progress) {
			s.mu.Lock()
			status.Progress = pr
			s.mu.Unlock()
		})
		s.mu.Lock()
		status.Running = false
		status.Result = res
		if err != nil {
			status.Error = err.Error()
		}
		s.mu.Unlock()
	}()

	writeJSON(w, 202, map[string]any{"ok": true, "project_id": projectID, "status": "started"})
}

func (s *Server) handleConsolidateStatus(w http.ResponseWriter, r *http.Request, projectID string) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	s.mu.Lock()
	status, ok := s.runs[projectID]
	var snapshot runStatus
	if ok {
		snapshot = *status
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, 404, "no consolidation run for this project")
		return
	}
	writeJSON(w, 200, snapshot)
}

// handleConflictResolve serves POST /v1/conflicts/{id}/resolve.
func (s *Server) handleConflictResolve(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/conflicts/")
	conflictID, action, _ := strings.Cut(path, "/")
	if conflictID == "" || strings.TrimSuffix(action, "/") != "resolve" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var req struct {
		Resolution string `json:"resolution"`
		MergedText string `json:"merged_text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, 400, "invalid JSON body: "+err.Error())
		return
	}

	status := insight.ResolutionStatus(strings.TrimSpace(req.Resolution))
	err := s.resolver.Resolve(conflictID, status, req.MergedText)
	switch {
	case err == nil:
		writeJSON(w, 200, map[string]any{"ok": true, "conflict_id": conflictID, "resolution": status})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, 404, "conflict not found")
	case errors.Is(err, reconcile.ErrConflictResolved):
		writeError(w, 409, err.Error())
	case errors.Is(err, reconcile.ErrMergedTextRequired):
		writeError(w, 400, err.Error())
	case strings.Contains(err.Error(), "invalid resolution"):
		writeError(w, 400, err.Error())
	default:
		writeError(w, 500, err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true, "time": time.Now().UTC()})
}
