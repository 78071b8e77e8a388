package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"questionbank"

	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const sessionName = "questionbank-session"

// maxImportBytes bounds one uploaded CSV
const maxImportBytes = 32 << 20

type Server struct {
	store      *questionbank.QuestionStore
	tracker    *questionbank.QuotaTracker
	gen        questionbank.TextGenerator
	throttle   *questionbank.Throttle
	sessions   sessions.Store
	persist    questionbank.SaveFunc
	registry   *prometheus.Registry
	defaults   questionbank.SessionConfig
	genOpts    questionbank.GeneratorOptions
	translator *questionbank.Translator
}

// userSettings are the per-browser values kept in the cookie session
type userSettings struct {
	CreatorName  string `json:"creator_name"`
	ReviewerName string `json:"reviewer_name"`
	Discipline   string `json:"discipline"`
}

func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/quota", s.handleQuota).Methods("GET")
	api.HandleFunc("/generate", s.handleGenerate).Methods("POST")
	api.HandleFunc("/import", s.handleImport).Methods("POST")
	api.HandleFunc("/questions", s.handleQuestions).Methods("GET")
	api.HandleFunc("/questions/{uniqueId}/variants", s.handleVariants).Methods("GET")
	api.HandleFunc("/questions/{id}/status", s.handleStatus).Methods("POST")
	api.HandleFunc("/questions/{id}/critique", s.handleCritique).Methods("POST")
	api.HandleFunc("/translate/missing", s.handleTranslateMissing).Methods("POST")
	api.HandleFunc("/throttle", s.handleThrottle).Methods("GET")
	api.HandleFunc("/settings", s.handleGetSettings).Methods("GET")
	api.HandleFunc("/settings", s.handleSettings).Methods("POST")

	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

func (s *Server) settings(r *http.Request) userSettings {
	us := userSettings{
		CreatorName:  s.defaults.CreatorName,
		ReviewerName: s.defaults.ReviewerName,
		Discipline:   s.defaults.Discipline,
	}
	session, err := s.sessions.Get(r, sessionName)
	if err != nil {
		return us
	}
	if v, ok := session.Values["creator_name"].(string); ok && v != "" {
		us.CreatorName = v
	}
	if v, ok := session.Values["reviewer_name"].(string); ok && v != "" {
		us.ReviewerName = v
	}
	if v, ok := session.Values["discipline"].(string); ok && v != "" {
		us.Discipline = v
	}
	return us
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings(r))
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var req userSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, _ := s.sessions.Get(r, sessionName)
	session.Values["creator_name"] = strings.TrimSpace(req.CreatorName)
	session.Values["reviewer_name"] = strings.TrimSpace(req.ReviewerName)
	session.Values["discipline"] = strings.TrimSpace(req.Discipline)
	if err := session.Save(r, w); err != nil {
		questionbank.Log().Errorw("session save failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, s.settings(r))
}

func (s *Server) discipline(r *http.Request) string {
	if d := strings.TrimSpace(r.URL.Query().Get("discipline")); d != "" {
		return d
	}
	return s.settings(r).Discipline
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	discipline := s.discipline(r)
	counts := s.tracker.CountsByCategory(s.store, discipline)

	maxBatch := make(map[string]int)
	for _, d := range append(append([]string(nil), questionbank.Difficulties...), questionbank.DifficultyBalancedAll) {
		maxBatch[d] = s.tracker.MaxAllowedBatch(d, counts)
	}
	resp := map[string]interface{}{
		"discipline": discipline,
		"status":     s.tracker.Status(counts),
		"max_batch":  maxBatch,
	}
	if cat, ok := s.tracker.SuggestCategory(counts); ok {
		resp["suggested"] = cat
	}
	writeJSON(w, http.StatusOK, resp)
}

type generateRequest struct {
	Discipline     string  `json:"discipline"`
	Difficulty     string  `json:"difficulty"`
	Type           string  `json:"type"`
	BatchSize      int     `json:"batch_size"`
	Temperature    float32 `json:"temperature"`
	SourceMaterial string  `json:"source_material"`
	CustomRules    string  `json:"custom_rules"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.gen == nil {
		writeError(w, http.StatusServiceUnavailable, "no API key configured")
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !questionbank.IsKnownDifficulty(req.Difficulty) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown difficulty %q", req.Difficulty))
		return
	}

	us := s.settings(r)
	if req.Discipline == "" {
		req.Discipline = us.Discipline
	}
	opts := s.genOpts
	opts.Session = questionbank.SessionConfig{
		CreatorName:  us.CreatorName,
		ReviewerName: us.ReviewerName,
		Discipline:   us.Discipline,
	}
	gen := questionbank.NewQuestionGenerator(s.gen, s.store, s.tracker, opts)

	result, err := gen.GenerateBatch(r.Context(), questionbank.GenerationRequest{
		Discipline:     req.Discipline,
		Difficulty:     req.Difficulty,
		Type:           questionbank.ParseGenerationType(req.Type),
		BatchSize:      req.BatchSize,
		Temperature:    req.Temperature,
		SourceMaterial: req.SourceMaterial,
		CustomRules:    req.CustomRules,
	})
	if err != nil {
		writeGenerationError(w, err)
		return
	}
	if !result.Decision.Allowed {
		writeJSON(w, http.StatusConflict, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeGenerationError maps the generation error taxonomy to HTTP statuses
func writeGenerationError(w http.ResponseWriter, err error) {
	var exhausted *questionbank.RateLimitExhaustedError
	switch {
	case errors.As(err, &exhausted):
		secs := int((exhausted.Wait + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, questionbank.ErrInvalidCredential):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

type importResponse struct {
	Filename   string `json:"filename"`
	Partition  string `json:"partition"`
	Imported   int    `json:"imported"`
	Duplicates int    `json:"duplicates"`
	Skipped    int    `json:"skipped"`
	SaveError  string `json:"save_error,omitempty"`
}

// handleImport accepts a multipart "file" field or a raw CSV body with a
// ?filename= parameter. The target partition defaults to historical.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var (
		filename string
		content  []byte
		err      error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxImportBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file field")
			return
		}
		defer file.Close()
		filename = header.Filename
		content, err = io.ReadAll(io.LimitReader(file, maxImportBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read upload")
			return
		}
	} else {
		filename = r.URL.Query().Get("filename")
		content, err = io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}
	}

	partition := questionbank.PartitionHistorical
	if p := r.FormValue("partition"); p != "" {
		if partition, err = questionbank.ParsePartition(p); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	rows := questionbank.ParseCSVRows(string(content), filename, s.settings(r).CreatorName)
	var questions []questionbank.Question
	for _, row := range rows {
		if row.OK() {
			questions = append(questions, *row.Question)
		}
	}
	resp := importResponse{Filename: filename, Partition: string(partition), Skipped: len(rows) - len(questions)}
	if len(questions) == 0 {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	res := s.store.Add(r.Context(), questions, partition)
	resp.Imported = len(res.Merged)
	resp.Duplicates = len(res.Duplicates)
	if res.SaveErr != nil {
		resp.SaveError = res.SaveErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type questionView struct {
	questionbank.Question
	Partition questionbank.Partition `json:"partition"`
	Languages []string               `json:"languages"`
}

// handleQuestions lists canonical questions, filtered by the optional
// discipline, status and partition query parameters
func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	discipline := q.Get("discipline")
	status := q.Get("status")
	partition := questionbank.Partition(q.Get("partition"))

	views := []questionView{}
	for _, c := range s.store.Canonicals() {
		if discipline != "" && c.Discipline != discipline {
			continue
		}
		if status != "" && c.Status != questionbank.ParseStatus(status) {
			continue
		}
		p, _ := s.store.PartitionOf(c.ID)
		if partition != "" && p != partition {
			continue
		}
		views = append(views, questionView{Question: c, Partition: p, Languages: s.store.LanguagesOf(c.UniqueID)})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleVariants(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uniqueId"]
	variants := s.store.VariantsOf(uid)
	if len(variants) == 0 {
		writeError(w, http.StatusNotFound, "question not found")
		return
	}
	writeJSON(w, http.StatusOK, variants)
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch strings.ToLower(strings.TrimSpace(req.Status)) {
	case "pending", "accepted", "approved", "rejected":
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", req.Status))
		return
	}
	status := questionbank.ParseStatus(req.Status)

	reviewer := s.settings(r).ReviewerName
	q, err := s.store.UpdateStatus(id, status, reviewer, req.Reason)
	if errors.Is(err, questionbank.ErrQuestionNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if s.persist != nil {
		partition, _ := s.store.PartitionOf(id)
		if err := s.persist(r.Context(), partition, []questionbank.Question{q}); err != nil {
			questionbank.Log().Errorw("failed to persist status", "id", id, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleCritique(w http.ResponseWriter, r *http.Request) {
	if s.gen == nil {
		writeError(w, http.StatusServiceUnavailable, "no API key configured")
		return
	}
	id := mux.Vars(r)["id"]

	c, err := questionbank.NewCritic(s.gen, s.store).Critique(r.Context(), id)
	if errors.Is(err, questionbank.ErrQuestionNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeGenerationError(w, err)
		return
	}

	if s.persist != nil {
		q, _ := s.store.Get(id)
		partition, _ := s.store.PartitionOf(id)
		if err := s.persist(r.Context(), partition, []questionbank.Question{q}); err != nil {
			questionbank.Log().Errorw("failed to persist critique", "id", id, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleTranslateMissing(w http.ResponseWriter, r *http.Request) {
	if s.translator == nil {
		writeError(w, http.StatusServiceUnavailable, "no API key configured")
		return
	}
	summary, err := s.translator.TranslateMissing(r.Context(), func(p questionbank.TranslationProgress) {
		questionbank.VerboseLog("Translation progress: %d%% (%d/%d)", p.Percent, p.Done, p.Total)
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleThrottle(w http.ResponseWriter, r *http.Request) {
	if s.throttle == nil {
		writeJSON(w, http.StatusOK, questionbank.ThrottleStatus{})
		return
	}
	writeJSON(w, http.StatusOK, s.throttle.Status())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		questionbank.Log().Warnw("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
