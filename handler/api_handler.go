package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"mssqlpipe/controller/root"
	"mssqlpipe/model"
	"mssqlpipe/service/db"
	"mssqlpipe/service/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Handler struct {
	Registry *session.Registry
	Gateway  db.Gateway
	TimeoutS int
}

type startSessionRequest struct {
	Query    string `json:"query"`
	Kind     string `json:"kind"`
	Database string `json:"database"`
	TimeoutS int    `json:"timeout_s"`
}

type startSessionResponse struct {
	SessionID int64 `json:"session_id"`
}

type cancelSessionResponse struct {
	SessionID int64 `json:"session_id"`
	Cancelled bool  `json:"cancelled"`
}

// Query executes synchronously and answers with the rendered text report.
// Execution faults, timeouts included, come back as plain text with a 400.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) error {
	query, err := readQuery(r)
	if err != nil {
		return err
	}
	kind, err := readKind(r.URL.Query().Get("kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil
	}
	timeoutS, _ := strconv.Atoi(r.URL.Query().Get("timeout_s"))

	result, err := root.QueryOperation(h.Gateway, kind, query, r.URL.Query().Get("database"), h.TimeoutS, timeoutS)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, err = w.Write([]byte(result))
	return err
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) error {
	var req startSessionRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	defer r.Body.Close()
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return nil
		}
	}
	if req.Query == "" {
		req.Query = r.URL.Query().Get("query")
	}
	if req.Query == "" {
		http.Error(w, root.EmptyQuery.Error(), http.StatusBadRequest)
		return nil
	}
	kind, err := readKind(req.Kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil
	}

	id := h.Registry.StartSession(kind, req.Query, req.Database, req.TimeoutS)
	return writeJSON(w, http.StatusCreated, startSessionResponse{SessionID: id})
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) error {
	includeCompleted := r.URL.Query().Get("include_completed") == "true"
	return writeJSON(w, http.StatusOK, h.Registry.ListSessions(includeCompleted))
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) error {
	id, ok := sessionID(w, r)
	if !ok {
		return nil
	}
	snap, err := h.Registry.GetSession(id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return nil
		}
		return err
	}
	return writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) GetSessionResults(w http.ResponseWriter, r *http.Request) error {
	id, ok := sessionID(w, r)
	if !ok {
		return nil
	}
	maxRows, _ := strconv.Atoi(r.URL.Query().Get("max_rows"))
	res, err := h.Registry.GetSessionResults(id, maxRows)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return nil
		}
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

// StopSession requests cooperative cancellation. An unknown or already
// terminal session answers cancelled=false rather than an error.
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) error {
	id, ok := sessionID(w, r)
	if !ok {
		return nil
	}
	cancelled := h.Registry.CancelSession(id)
	return writeJSON(w, http.StatusOK, cancelSessionResponse{SessionID: id, Cancelled: cancelled})
}

func (h *Handler) ListDatabases(w http.ResponseWriter, r *http.Request) error {
	names, err := h.Gateway.ListDatabases(r.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, names)
}

func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) error {
	names, err := h.Gateway.ListTables(r.Context(), r.URL.Query().Get("database"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, names)
}

func (h *Handler) TableSchema(w http.ResponseWriter, r *http.Request) error {
	table := mux.Vars(r)["table"]
	cols, err := h.Gateway.TableSchema(r.Context(), table, r.URL.Query().Get("database"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, cols)
}

// readQuery takes the statement from the query parameter or the body.
func readQuery(r *http.Request) (string, error) {
	if q := r.URL.Query().Get("query"); q != "" {
		return q, nil
	}
	if r.Body == nil {
		return "", nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", err
	}
	defer r.Body.Close()
	return string(body), nil
}

func readKind(kind string) (model.SessionKind, error) {
	switch kind {
	case "", string(model.KindQuery):
		return model.KindQuery, nil
	case string(model.KindProcedure):
		return model.KindProcedure, nil
	default:
		return "", errors.New("unknown kind: " + kind)
	}
}

func sessionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
