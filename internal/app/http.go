package app

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"skymirror/pkg/keys"
	"skymirror/pkg/logger"
	"skymirror/pkg/models"
	"skymirror/pkg/mutate"
	"skymirror/pkg/syncer"
	"skymirror/pkg/telemetry"
	"skymirror/pkg/utils"
)

// setupRoutes mounts the local read and mutation API. Responses include a
// "stale" indicator when a remote fetch failed and only cached data is
// served; subscribers wanting push semantics use the in-process signal bus.
func (a *App) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/page", a.pageHandler).Methods(http.MethodGet)
	v1.HandleFunc("/entity", a.entityHandler).Methods(http.MethodGet)
	v1.HandleFunc("/thread", a.threadHandler).Methods(http.MethodGet)
	v1.HandleFunc("/notifications/page", a.notificationsPageHandler).Methods(http.MethodGet)
	v1.HandleFunc("/notifications/unread", a.unreadHandler).Methods(http.MethodGet)
	v1.HandleFunc("/notifications/read", a.markReadHandler).Methods(http.MethodPost)
	v1.HandleFunc("/tags", a.tagAddHandler).Methods(http.MethodPost)
	v1.HandleFunc("/tags", a.tagRemoveHandler).Methods(http.MethodDelete)
	v1.HandleFunc("/status", a.statusHandler).Methods(http.MethodPost)
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

type pageResponse struct {
	Keys        []string      `json:"keys"`
	NextCursor  models.Cursor `json:"next_cursor"`
	EndOfStream bool          `json:"end_of_stream,omitempty"`
	// Stale marks a page assembled from cache only because the index was
	// unreachable.
	Stale bool   `json:"stale,omitempty"`
	Error string `json:"error,omitempty"`
}

func pagePayload(p syncer.Page, stale bool, errMsg string) pageResponse {
	out := pageResponse{NextCursor: p.NextCursor, EndOfStream: p.EndOfStream, Stale: stale, Error: errMsg}
	for _, k := range p.Keys {
		out.Keys = append(out.Keys, k.String())
	}
	return out
}

func readCursor(r *http.Request) (models.Cursor, error) {
	q := r.URL.Query()
	if v := q.Get("older_than"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return models.Cursor{}, err
		}
		return models.Cursor{Kind: models.CursorWatermark, OlderThan: ts}, nil
	}
	skip := 0
	if v := q.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return models.Cursor{}, err
		}
		skip = n
	}
	return models.Cursor{Kind: models.CursorOffset, Offset: skip}, nil
}

func readLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 25
}

func (a *App) pageHandler(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("stream")
	if name == "" {
		utils.JSONError(w, http.StatusBadRequest, "missing stream")
		return
	}
	cursor, err := readCursor(r)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid cursor")
		return
	}
	start := time.Now()
	page, err := a.syncer.GetPage(r.Context(), name, cursor, readLimit(r))
	telemetry.AddSpan(r.Context(), "sync_get_page", start, map[string]any{"stream": name})
	if err != nil {
		var fe *syncer.FetchError
		if errors.As(err, &fe) {
			// degrade to the confirmed local portion with a staleness flag
			local := syncer.Page{NextCursor: cursor}
			for _, e := range fe.Local {
				local.Keys = append(local.Keys, e.Key)
			}
			utils.JSONWrite(w, http.StatusOK, pagePayload(local, true, fe.Err.Error()))
			return
		}
		logger.Error("page_request_failed", "stream", name, "error", err)
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.JSONWrite(w, http.StatusOK, pagePayload(page, false, ""))
}

func (a *App) entityHandler(w http.ResponseWriter, r *http.Request) {
	kind := models.Kind(r.URL.Query().Get("kind"))
	rawKey := r.URL.Query().Get("key")
	key, err := keys.Parse(rawKey)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, ok, err := a.store.Get(kind, key)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		utils.JSONError(w, http.StatusNotFound, "not cached")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(v)
}

func (a *App) threadHandler(w http.ResponseWriter, r *http.Request) {
	post, err := keys.Parse(r.URL.Query().Get("post"))
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	chain, err := a.syncer.Ancestors(r.Context(), post)
	if err != nil {
		utils.JSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	out := struct {
		Post      string   `json:"post"`
		Ancestors []string `json:"ancestors"`
	}{Post: post.String()}
	for _, k := range chain {
		out.Ancestors = append(out.Ancestors, k.String())
	}
	utils.JSONWrite(w, http.StatusOK, out)
}

func (a *App) notificationsPageHandler(w http.ResponseWriter, r *http.Request) {
	var olderThan int64
	if v := r.URL.Query().Get("older_than"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			utils.JSONError(w, http.StatusBadRequest, "invalid older_than")
			return
		}
		olderThan = ts
	}
	page, err := a.notifier.GetOrFetchPage(r.Context(), a.cfg.Account.Identity, olderThan, readLimit(r))
	if err != nil {
		var fe *syncer.FetchError
		if errors.As(err, &fe) {
			local := syncer.Page{}
			for _, e := range fe.Local {
				local.Keys = append(local.Keys, e.Key)
			}
			utils.JSONWrite(w, http.StatusOK, pagePayload(local, true, fe.Err.Error()))
			return
		}
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.JSONWrite(w, http.StatusOK, pagePayload(page, false, ""))
}

func (a *App) unreadHandler(w http.ResponseWriter, _ *http.Request) {
	n, err := a.notifier.Unread(a.cfg.Account.Identity)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]int{"unread": n})
}

func (a *App) markReadHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Watermark int64 `json:"watermark"`
	}
	if err := utils.JSONRead(r, &body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := a.notifier.MarkAllRead(a.cfg.Account.Identity, body.Watermark); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type tagRequest struct {
	Target string `json:"target"`
	Label  string `json:"label"`
}

func (a *App) tagAddHandler(w http.ResponseWriter, r *http.Request) {
	a.tagMutation(w, r, true)
}

func (a *App) tagRemoveHandler(w http.ResponseWriter, r *http.Request) {
	a.tagMutation(w, r, false)
}

func (a *App) tagMutation(w http.ResponseWriter, r *http.Request, add bool) {
	var body tagRequest
	if err := utils.JSONRead(r, &body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid body")
		return
	}
	target, err := keys.Parse(body.Target)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	identity := a.cfg.Account.Identity
	if add {
		err = a.mutator.ApplyTagAdd(r.Context(), target, body.Label, identity)
	} else {
		err = a.mutator.ApplyTagRemove(r.Context(), target, body.Label, identity)
	}
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, mutate.ErrTagNotFound):
		utils.JSONError(w, http.StatusConflict, err.Error())
	default:
		// optimistic change already rolled back; surface an actionable error
		utils.JSONError(w, http.StatusBadGateway, err.Error())
	}
}

func (a *App) statusHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := utils.JSONRead(r, &body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := a.mutator.ApplyStatusUpdate(r.Context(), a.cfg.Account.Identity, body.Status); err != nil {
		utils.JSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// startHTTP builds the router, starts the HTTP server in a goroutine and
// returns a channel that will carry any server error.
func (a *App) startHTTP() <-chan error {
	r := mux.NewRouter()
	r.Use(telemetry.Middleware)
	a.setupRoutes(r)
	a.srv = &http.Server{Addr: a.cfg.Addr(), Handler: r}
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srv.ListenAndServe()
	}()
	return errCh
}
