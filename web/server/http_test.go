package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/prometheus/client_golang/prometheus"
	"go.viam.com/test"

	"go.viam.com/rdk/logging"

	"go.viam.com/mapserver/mapserver"
	"go.viam.com/mapserver/posegraph"
)

type fakeNode struct {
	accept    bool
	saved     []string
	submitted []string
	lookups   []posegraph.SensorType
	points    []r3.Vector
	registry  *prometheus.Registry
}

func (f *fakeNode) Submit(robotName, path string) bool {
	f.submitted = append(f.submitted, robotName+":"+path)
	return f.accept
}

func (f *fakeNode) Snapshot() mapserver.StatusSnapshot {
	return mapserver.StatusSnapshot{TotalWorkers: 4, SubmapsMerged: 2}
}

func (f *fakeNode) MapLookup(
	ctx context.Context, robotName string, sensorType posegraph.SensorType, timestampNs int64, pS r3.Vector,
) (mapserver.LookupResult, mapserver.LookupStatus) {
	f.lookups = append(f.lookups, sensorType)
	f.points = append(f.points, pS)
	if robotName != "r1" {
		return mapserver.LookupResult{}, mapserver.NoSuchMission
	}
	return mapserver.LookupResult{Point: r3.Vector{X: 1}, SensorOrigin: r3.Vector{Y: 2}}, mapserver.LookupSuccess
}

func (f *fakeNode) SaveMap(ctx context.Context, folder string) bool {
	f.saved = append(f.saved, folder)
	return f.accept
}

func (f *fakeNode) SaveMapToConfiguredFolder(ctx context.Context) bool {
	return f.SaveMap(ctx, "<configured>")
}

func (f *fakeNode) Gatherer() prometheus.Gatherer {
	return f.registry
}

func newFakeNode(accept bool) *fakeNode {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "mapserver_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()
	return &fakeNode{accept: accept, registry: reg}
}

func serveRequest(t *testing.T, node mapNode, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := newMux(node, logging.NewTestLogger(t))
	rec := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	mux.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	node := newFakeNode(true)
	rec := serveRequest(t, node, http.MethodGet, "/status", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, rec.Body.String(), test.ShouldContainSubstring, "no submaps to process or merge")

	rec = serveRequest(t, node, http.MethodGet, "/status?format=json", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	var snap mapserver.StatusSnapshot
	test.That(t, json.Unmarshal(rec.Body.Bytes(), &snap), test.ShouldBeNil)
	test.That(t, snap.SubmapsMerged, test.ShouldEqual, 2)
	test.That(t, snap.TotalWorkers, test.ShouldEqual, 4)
}

func TestLookupEndpoint(t *testing.T) {
	node := newFakeNode(true)
	rec := serveRequest(t, node, http.MethodGet, "/lookup?robot=r1&sensor=lidar&timestamp_ns=10&x=1.5&z=-2", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	var resp lookupResponse
	test.That(t, json.Unmarshal(rec.Body.Bytes(), &resp), test.ShouldBeNil)
	test.That(t, resp.Status, test.ShouldEqual, "success")
	test.That(t, *resp.Point, test.ShouldResemble, r3.Vector{X: 1})
	test.That(t, *resp.SensorOrigin, test.ShouldResemble, r3.Vector{Y: 2})
	test.That(t, node.lookups, test.ShouldResemble, []posegraph.SensorType{posegraph.Lidar})
	test.That(t, node.points, test.ShouldResemble, []r3.Vector{{X: 1.5, Z: -2}})

	rec = serveRequest(t, node, http.MethodGet, "/lookup?robot=r2&sensor=imu&timestamp_ns=10", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	resp = lookupResponse{}
	test.That(t, json.Unmarshal(rec.Body.Bytes(), &resp), test.ShouldBeNil)
	test.That(t, resp.Status, test.ShouldEqual, "no_such_mission")
	test.That(t, resp.Point, test.ShouldBeNil)

	for _, target := range []string{
		"/lookup?robot=r1&sensor=sonar&timestamp_ns=10",
		"/lookup?robot=r1&sensor=lidar",
		"/lookup?robot=r1&sensor=lidar&timestamp_ns=10&y=up",
	} {
		rec = serveRequest(t, node, http.MethodGet, target, "")
		test.That(t, rec.Code, test.ShouldEqual, http.StatusBadRequest)
	}
	test.That(t, node.lookups, test.ShouldHaveLength, 2)
}

func TestSaveEndpoint(t *testing.T) {
	node := newFakeNode(true)
	rec := serveRequest(t, node, http.MethodPost, "/save", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusNoContent)
	rec = serveRequest(t, node, http.MethodPost, "/save", `{"folder": "/tmp/out"}`)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusNoContent)
	test.That(t, node.saved, test.ShouldResemble, []string{"<configured>", "/tmp/out"})

	rec = serveRequest(t, node, http.MethodPost, "/save", `{"folder":`)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusBadRequest)

	// a chunked request carries no length even when its body is empty
	req := httptest.NewRequest(http.MethodPost, "/save", strings.NewReader(""))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	rec = httptest.NewRecorder()
	newMux(node, logging.NewTestLogger(t)).ServeHTTP(rec, req)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusNoContent)
	test.That(t, node.saved, test.ShouldResemble, []string{"<configured>", "/tmp/out", "<configured>"})

	node.accept = false
	rec = serveRequest(t, node, http.MethodPost, "/save", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusConflict)

	rec = serveRequest(t, node, http.MethodGet, "/save", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusNotFound)
}

func TestSubmitEndpoint(t *testing.T) {
	node := newFakeNode(true)
	rec := serveRequest(t, node, http.MethodPost, "/submaps", `{"robot_name": "r1", "path": "/maps/a"}`)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusAccepted)
	test.That(t, node.submitted, test.ShouldResemble, []string{"r1:/maps/a"})

	rec = serveRequest(t, node, http.MethodPost, "/submaps", `{"robot_name": "r1"}`)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusBadRequest)
	rec = serveRequest(t, node, http.MethodPost, "/submaps", `nope`)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusBadRequest)

	node.accept = false
	rec = serveRequest(t, node, http.MethodPost, "/submaps", `{"robot_name": "r1", "path": "/maps/b"}`)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusServiceUnavailable)
	test.That(t, node.submitted, test.ShouldHaveLength, 2)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serveRequest(t, newFakeNode(true), http.MethodGet, "/metrics", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, rec.Body.String(), test.ShouldContainSubstring, "mapserver_test_total 1")
}
