package service

import (
	"context"
	"net/http"
	"sort"
	"strconv"

	"rule_trader/internal/models"
	"rule_trader/internal/scheduler"
	"rule_trader/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

type Deployer interface {
	Deploy(ctx context.Context, id int64) error
	Undeploy(ctx context.Context, id int64) error
}

type Scanner interface {
	Scan(ctx context.Context, id int64) ([]int64, error)
}

type JobLister interface {
	Jobs() []scheduler.JobInfo
}

// Admin держит ручки управления на admin-порту рядом с health.
type Admin struct {
	strategies Deployer
	screeners  Scanner
	jobs       JobLister
}

func NewAdmin(strategies Deployer, screeners Scanner, jobs JobLister) *Admin {
	return &Admin{strategies: strategies, screeners: screeners, jobs: jobs}
}

func (a *Admin) Mount(mux *http.ServeMux) {
	mux.HandleFunc("POST /strategies/deploy", a.deploy)
	mux.HandleFunc("POST /strategies/undeploy", a.undeploy)
	mux.HandleFunc("POST /screeners/scan", a.scan)
	mux.HandleFunc("GET /scheduler/jobs", a.listJobs)
}

func (a *Admin) deploy(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := a.strategies.Deploy(r.Context(), id); err != nil {
		writeError(w, "deploy strategy", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deployed": true})
}

func (a *Admin) undeploy(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := a.strategies.Undeploy(r.Context(), id); err != nil {
		writeError(w, "undeploy strategy", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deployed": false})
}

func (a *Admin) scan(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	ids, err := a.screeners.Scan(r.Context(), id)
	if err != nil {
		writeError(w, "scan screener", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "instrument_ids": ids})
}

func (a *Admin) listJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := a.jobs.Jobs()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].At.Before(jobs[j].At) })
	writeJSON(w, http.StatusOK, jobs)
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id is required"})
		return 0, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, op string, id int64, err error) {
	if errors.Is(err, models.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	logger.Error("admin %s id=%d: %v", op, id, err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	bs, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(bs)
}
