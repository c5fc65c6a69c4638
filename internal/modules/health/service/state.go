package service

import (
	"sync/atomic"
	"time"
)

// State хранит то, что видят пробы: готовность, живость цикла планировщика.
type State struct {
	ready     atomic.Bool
	startedAt time.Time

	running      atomic.Bool
	lastTickUnix atomic.Int64 // unix seconds
	jobs         atomic.Int64
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetRunning(v bool) { s.running.Store(v) }
func (s *State) Running() bool     { return s.running.Load() }

func (s *State) SetJobs(n int) { s.jobs.Store(int64(n)) }
func (s *State) Jobs() int     { return int(s.jobs.Load()) }

func (s *State) TouchTick(t time.Time) { s.lastTickUnix.Store(t.Unix()) }
func (s *State) LastTick() time.Time {
	u := s.lastTickUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
