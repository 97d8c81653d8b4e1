package http_reporter

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/CAFxX/httpcompression"
	"github.com/goccy/go-json"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/fllarpy/callprobe/domain"
)

// DefaultPath is where the handler is mounted when no path is given.
const DefaultPath = "/calltrees"

type handler struct {
	store domain.StoreReader
}

// NewHandler creates an HTTP handler serving call trees from store under
// path. GET path lists the snapshot, GET path/:index returns one tree.
// Responses are compressed when the client accepts it.
func NewHandler(store domain.StoreReader, path string) (http.Handler, error) {
	compress, err := httpcompression.DefaultAdapter()
	if err != nil {
		return nil, err
	}

	path = strings.TrimRight(path, "/")
	if path == "" {
		path = DefaultPath
	}
	h := handler{store: store}

	routes := []struct {
		method  string
		path    string
		handler http.HandlerFunc
	}{
		{http.MethodGet, path, h.getSnapshot},
		{http.MethodGet, path + "/:index", h.getCallTree},
	}

	router := httprouter.New()
	for _, route := range routes {
		router.Handler(route.method, route.path, compress(route.handler))
	}
	return router, nil
}

func (h handler) getSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.store.GetSnapshot())
}

func (h handler) getCallTree(w http.ResponseWriter, r *http.Request) {
	ps := httprouter.ParamsFromContext(r.Context())
	index, err := strconv.Atoi(ps.ByName("index"))
	if err != nil {
		http.Error(w, "index must be an integer", http.StatusBadRequest)
		return
	}
	record, ok := h.store.Record(index)
	if !ok {
		http.Error(w, "call tree not found", http.StatusNotFound)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if record.Root != nil {
			_, _ = w.Write([]byte(record.Root.Format(true)))
		}
		return
	}
	writeJSON(w, record)
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("error encoding call trees")
		http.Error(w, "failed to encode call trees", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(b)
}
