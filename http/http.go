// Package http serves a glyco database over JSON.
package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ipld/go-ipld-prime/codec/dagjson"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/nasdf/glyco"
	"github.com/nasdf/glyco/codec"
	"github.com/nasdf/glyco/core"
	"github.com/nasdf/glyco/match"
	"github.com/nasdf/glyco/query"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ListenAndServe starts an http server bound to the given address. Metrics
// are served from the given gatherer when it is not nil.
func ListenAndServe(db *glyco.DB, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/", Handler(db))
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return http.ListenAndServe(addr, mux)
}

// Handler returns an http.Handler serving the records, subtree search,
// precursor search and export endpoints.
func Handler(db *glyco.DB) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /records", func(w http.ResponseWriter, r *http.Request) {
		params, err := parseQueryParams(r.URL.Query())
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to parse params: %v", err), http.StatusBadRequest)
			return
		}
		filter, err := query.ParseParams(db.System(), &params)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		it, err := db.Query(r.Context(), filter)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		records, err := it.Collect(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out := make([]Record, 0, len(records))
		for _, rec := range records {
			out = append(out, newRecord(rec))
		}
		writeJSON(w, out)
	})
	mux.HandleFunc("POST /subtrees", func(w http.ResponseWriter, r *http.Request) {
		nb := basicnode.Prototype.Any.NewBuilder()
		if err := dagjson.Decode(nb, r.Body); err != nil {
			http.Error(w, fmt.Sprintf("failed to parse body: %v", err), http.StatusBadRequest)
			return
		}
		q, err := codec.Decode(nb.Build())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		params := glyco.SubtreeParams{
			Filter:  r.URL.Query().Get("filter"),
			Workers: db.Config().Workers,
		}
		ids, err := glyco.FindSubtrees(r.Context(), db.Store, q, params)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if ids == nil {
			ids = []int64{}
		}
		writeJSON(w, ids)
	})
	mux.HandleFunc("POST /search", func(w http.ResponseWriter, r *http.Request) {
		var p glyco.Precursor
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, fmt.Sprintf("failed to parse body: %v", err), http.StatusBadRequest)
			return
		}
		hits, err := db.Search(r.Context(), p)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out := make([]Hit, 0, len(hits))
		for _, h := range hits {
			out = append(out, Hit{Record: newRecord(h.Record), Result: h.Result})
		}
		writeJSON(w, out)
	})
	mux.HandleFunc("GET /export", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.ipld.car")
		if err := db.Export(r.Context(), w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return mux
}

// Record is the JSON form of a stored record.
type Record struct {
	ID          int64    `json:"id"`
	Mass        float64  `json:"mass"`
	Composition string   `json:"composition"`
	Key         string   `json:"key"`
	Nodes       int      `json:"nodes"`
	Flags       []string `json:"flags"`
}

func newRecord(r *core.Record) Record {
	flags := r.Flags
	if flags == nil {
		flags = []string{}
	}
	return Record{
		ID:          r.ID,
		Mass:        r.Mass,
		Composition: r.Composition.String(),
		Key:         r.Key,
		Nodes:       r.Nodes,
		Flags:       flags,
	}
}

// Hit is the JSON form of a scored search candidate.
type Hit struct {
	Record Record        `json:"record"`
	Result *match.Result `json:"result"`
}

func writeJSON(w http.ResponseWriter, v any) {
	out, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}

func parseQueryParams(values url.Values) (query.Params, error) {
	params := query.Params{
		Filter: values.Get("filter"),
	}
	if !values.Has("variables") {
		return params, nil
	}
	err := json.Unmarshal([]byte(values.Get("variables")), &params.Variables)
	if err != nil {
		return query.Params{}, err
	}
	return params, nil
}
