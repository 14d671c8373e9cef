// Package api serves the todo collection over HTTP.
//
// Every request runs its own load-mutate-save cycle against the store; the
// handler keeps no collection state between requests.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/todo-api/internal/metrics"
	"github.com/calvinalkan/todo-api/internal/storage"
	"github.com/calvinalkan/todo-api/internal/todo"
)

// Route patterns. They double as the route label in logs and metrics.
const (
	RouteList    = "GET /todos"
	RouteCreate  = "POST /todos"
	RouteUpdate  = "PUT /todos/{id}"
	RouteDelete  = "DELETE /todos/{id}"
	RouteMetrics = "GET /metrics"
	RouteHealth  = "GET /healthz"
)

// MsgNotFound is the body of every 404 for an unknown todo.
const MsgNotFound = "Todo not found"

// MsgIDSpaceExhausted is the body of the 409 returned when no id is left.
const MsgIDSpaceExhausted = "No todo id available"

const maxBodyBytes = 1 << 20

var (
	errNotFound     = errors.New("todo not found")
	errTitleMissing = errors.New("missing field `title`")
	errNotObject    = errors.New("expected a JSON object")
)

// Handler routes the todo endpoints.
type Handler struct {
	store   *storage.Store
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	mux     *http.ServeMux
	root    http.Handler
}

// New wires the routes. m may be nil, in which case no metrics are recorded
// and /metrics is not served.
//
// Save failures are logged at Fatal level, so with a default logrus logger
// they terminate the process.
func New(store *storage.Store, log logrus.FieldLogger, m *metrics.Metrics) *Handler {
	if store == nil {
		panic("store is nil")
	}

	if log == nil {
		log = logrus.StandardLogger()
	}

	h := &Handler{store: store, log: log, metrics: m, mux: http.NewServeMux()}

	h.mux.HandleFunc(RouteList, h.handleList)
	h.mux.HandleFunc(RouteCreate, h.handleCreate)
	h.mux.HandleFunc(RouteUpdate, h.handleUpdate)
	h.mux.HandleFunc(RouteDelete, h.handleDelete)
	h.mux.HandleFunc(RouteHealth, func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})

	if m != nil {
		h.mux.Handle(RouteMetrics, m.Handler())
	}

	h.root = h.instrument(h.mux)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.Load(r.Context())
	if err != nil {
		h.loadFailed(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, c)
}

type createRequest struct {
	Title *string `json:"title"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest

	err := decodeBody(w, r, &req)
	if err == nil && req.Title == nil {
		err = errTitleMissing
	}

	if err != nil {
		writeText(w, http.StatusBadRequest, "Invalid request body: "+err.Error())

		return
	}

	var created todo.Record

	_, err = h.store.Update(r.Context(), func(c []todo.Record) ([]todo.Record, bool, error) {
		r, err := todo.New(c, *req.Title)
		if err != nil {
			return c, false, err
		}

		created = r

		return todo.Insert(c, created), true, nil
	})
	if err != nil {
		h.updateFailed(w, r, err)

		return
	}

	requestLogger(r, h.log).WithField("todo_id", created.ID).Debug("Created todo")
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeText(w, http.StatusNotFound, MsgNotFound)

		return
	}

	var patch todo.Patch

	err := decodeBody(w, r, &patch)
	if err != nil {
		writeText(w, http.StatusBadRequest, "Invalid request body: "+err.Error())

		return
	}

	_, err = h.store.Update(r.Context(), func(c []todo.Record) ([]todo.Record, bool, error) {
		idx, found := todo.FindByID(c, id)
		if !found {
			return c, false, errNotFound
		}

		todo.Apply(&c[idx], patch)

		return c, true, nil
	})
	if err != nil {
		h.updateFailed(w, r, err)

		return
	}

	writeText(w, http.StatusOK, fmt.Sprintf("Updated todo with ID %d: %s", id, patch))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeText(w, http.StatusNotFound, MsgNotFound)

		return
	}

	_, err := h.store.Update(r.Context(), func(c []todo.Record) ([]todo.Record, bool, error) {
		c, removed := todo.RemoveByID(c, id)
		if !removed {
			return c, false, errNotFound
		}

		return c, true, nil
	})
	if err != nil {
		h.updateFailed(w, r, err)

		return
	}

	writeText(w, http.StatusOK, fmt.Sprintf("Deleted todo with ID %d", id))
}

// updateFailed maps an Update error to a response. A failed save is fatal.
func (h *Handler) updateFailed(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errNotFound):
		writeText(w, http.StatusNotFound, MsgNotFound)
	case errors.Is(err, todo.ErrIDSpaceExhausted):
		requestLogger(r, h.log).WithError(err).Warn("Rejected create")
		writeText(w, http.StatusConflict, MsgIDSpaceExhausted)
	case errors.Is(err, storage.ErrSave):
		// Fatal exits through the logger's ExitFunc. If that returns (tests),
		// the client still gets an answer.
		requestLogger(r, h.log).WithError(err).Fatal("Persisting collection failed")
		writeText(w, http.StatusInternalServerError, "Internal Server Error")
	default:
		h.loadFailed(w, r, err)
	}
}

func (h *Handler) loadFailed(w http.ResponseWriter, r *http.Request, err error) {
	requestLogger(r, h.log).WithError(err).Error("Loading collection failed")
	writeText(w, http.StatusInternalServerError, "Internal Server Error")
}

func parseID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, false
	}

	return id, true
}

// decodeBody reads the whole body and decodes exactly one JSON value.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errNotObject
	}

	return json.Unmarshal(trimmed, v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}
