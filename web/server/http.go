package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goji "goji.io"
	"goji.io/pat"

	"go.viam.com/rdk/logging"

	"go.viam.com/mapserver/mapserver"
	"go.viam.com/mapserver/posegraph"
)

// mapNode is the part of a map server node the HTTP surface uses.
type mapNode interface {
	Submit(robotName, path string) bool
	Snapshot() mapserver.StatusSnapshot
	MapLookup(ctx context.Context, robotName string, sensorType posegraph.SensorType, timestampNs int64,
		pS r3.Vector) (mapserver.LookupResult, mapserver.LookupStatus)
	SaveMap(ctx context.Context, folder string) bool
	SaveMapToConfiguredFolder(ctx context.Context) bool
	Gatherer() prometheus.Gatherer
}

type handlers struct {
	node   mapNode
	logger logging.Logger
}

type submitRequest struct {
	RobotName string `json:"robot_name"`
	Path      string `json:"path"`
}

type saveRequest struct {
	Folder string `json:"folder"`
}

type lookupResponse struct {
	Status       string     `json:"status"`
	Point        *r3.Vector `json:"point,omitempty"`
	SensorOrigin *r3.Vector `json:"sensor_origin,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// newMux routes the status, lookup, save, submit and metrics endpoints.
func newMux(node mapNode, logger logging.Logger) *goji.Mux {
	h := &handlers{node: node, logger: logger}
	mux := goji.NewMux()
	mux.HandleFunc(pat.Get("/status"), h.status)
	mux.HandleFunc(pat.Get("/lookup"), h.lookup)
	mux.HandleFunc(pat.Post("/save"), h.save)
	mux.HandleFunc(pat.Post("/submaps"), h.submit)
	mux.Handle(pat.Get("/metrics"), promhttp.HandlerFor(node.Gatherer(), promhttp.HandlerOpts{}))
	return mux
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	snap := h.node.Snapshot()
	if r.URL.Query().Get("format") == "json" {
		h.writeJSON(w, http.StatusOK, snap)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(snap.String() + "\n")); err != nil {
		h.logger.Debugw("cannot write status response", "error", err)
	}
}

func (h *handlers) lookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sensorType, err := posegraph.ParseSensorType(q.Get("sensor"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	timestampNs, err := strconv.ParseInt(q.Get("timestamp_ns"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid timestamp_ns"))
		return
	}
	var pS r3.Vector
	for name, dst := range map[string]*float64{"x": &pS.X, "y": &pS.Y, "z": &pS.Z} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		if *dst, err = strconv.ParseFloat(raw, 64); err != nil {
			h.writeError(w, http.StatusBadRequest, errors.Wrapf(err, "invalid %s", name))
			return
		}
	}

	res, status := h.node.MapLookup(r.Context(), q.Get("robot"), sensorType, timestampNs, pS)
	resp := lookupResponse{Status: status.String()}
	if status == mapserver.LookupSuccess {
		resp.Point = &res.Point
		resp.SensorOrigin = &res.SensorOrigin
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) save(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	// an empty body, chunked or not, saves to the configured folder
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid save request"))
			return
		}
	}
	var ok bool
	if req.Folder == "" {
		ok = h.node.SaveMapToConfiguredFolder(r.Context())
	} else {
		ok = h.node.SaveMap(r.Context(), req.Folder)
	}
	if !ok {
		h.writeError(w, http.StatusConflict, errors.New("map was not saved"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid submap request"))
		return
	}
	if req.Path == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("path is required"))
		return
	}
	if !h.node.Submit(req.RobotName, req.Path) {
		h.writeError(w, http.StatusServiceUnavailable, errors.New("submap was not accepted"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debugw("cannot write response", "error", err)
	}
}

func (h *handlers) writeError(w http.ResponseWriter, code int, err error) {
	h.writeJSON(w, code, errorResponse{Error: err.Error()})
}
