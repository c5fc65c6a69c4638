package strategy

import (
	"context"
	"sync"
	"testing"
	"time"

	"rule_trader/internal/indicator"
	"rule_trader/internal/models"
	"rule_trader/internal/rules"
	"rule_trader/internal/scheduler"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ist = time.FixedZone("IST", 5*3600+1800)

// понедельник
var monday1030 = time.Date(2026, 10, 19, 10, 30, 20, 0, ist)

type memStore struct {
	mu        sync.Mutex
	rows      map[int64]models.Strategy
	saves     int
	failSave  map[int64]bool // id инструмента, при добавлении которого save падает
	deployed  map[int64]bool
	createErr error
	getErr    error
}

func newMemStore(sts ...models.Strategy) *memStore {
	m := &memStore{rows: make(map[int64]models.Strategy), failSave: map[int64]bool{}, deployed: map[int64]bool{}}
	for _, st := range sts {
		m.rows[st.ID] = st
	}
	return m
}

func (m *memStore) Get(_ context.Context, id int64) (*models.Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	st, ok := m.rows[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	st.EnteredInstrumentIDs = append([]int64(nil), st.EnteredInstrumentIDs...)
	st.InstrumentIDs = append([]int64(nil), st.InstrumentIDs...)
	return &st, nil
}

func (m *memStore) ListDeployed(context.Context) ([]*models.Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Strategy
	for id := int64(1); id <= int64(len(m.rows)+10); id++ {
		if st, ok := m.rows[id]; ok && st.Deployed {
			cp := st
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) Create(_ context.Context, st *models.Strategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	st.ID = int64(len(m.rows) + 100)
	m.rows[st.ID] = *st
	return nil
}

func (m *memStore) SaveProgress(_ context.Context, st *models.Strategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(st.EnteredInstrumentIDs); n > 0 && m.failSave[st.EnteredInstrumentIDs[n-1]] {
		return errors.New("connection reset")
	}
	m.saves++
	row := m.rows[st.ID]
	row.EnteredInstrumentIDs = append([]int64(nil), st.EnteredInstrumentIDs...)
	row.InstrumentIDs = append([]int64(nil), st.InstrumentIDs...)
	m.rows[st.ID] = row
	return nil
}

func (m *memStore) SetDeployed(_ context.Context, id int64, deployed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return models.ErrNotFound
	}
	row.Deployed = deployed
	m.rows[id] = row
	return nil
}

func (m *memStore) row(id int64) models.Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id]
}

type universe struct {
	ids []int64
	err error
}

func (u universe) Get(_ context.Context, id int64) (models.Instrument, error) {
	return models.Instrument{ID: id, TradingSymbol: "SYM", TickSize: decimal.RequireFromString("0.05")}, nil
}

func (u universe) AllIDs(context.Context) ([]int64, error) { return u.ids, u.err }

// setMatcher совпадает на заданных id и запоминает, что ему дали.
type setMatcher struct {
	match map[int64]bool
	seen  [][]int64
	err   error
}

func (m *setMatcher) MatchIDs(_ context.Context, _ *rules.Program, ids []int64) ([]int64, error) {
	m.seen = append(m.seen, append([]int64(nil), ids...))
	if m.err != nil {
		return nil, m.err
	}
	var out []int64
	for _, id := range ids {
		if m.match[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

type fakeScreener struct {
	ids []int64
	err error
}

func (f fakeScreener) Scan(context.Context, int64) ([]int64, error) { return f.ids, f.err }

type entries struct{ got []int64 }

func (e *entries) InitiateEntry(_ context.Context, st *models.Strategy, inst models.Instrument) (*models.Order, error) {
	e.got = append(e.got, inst.ID)
	return &models.Order{ID: int64(len(e.got)), Price: decimal.NewFromInt(100)}, nil
}

type validator struct{ err error }

func (v validator) ValidateStrategy(context.Context, *models.Strategy) error { return v.err }

type enqueued struct {
	key   scheduler.Key
	at    time.Time
	flags scheduler.Flags
	now   bool
}

type jobs struct {
	list      []enqueued
	cancelled []scheduler.Key
}

func (j *jobs) EnqueueNow(key scheduler.Key, flags scheduler.Flags) error {
	j.list = append(j.list, enqueued{key: key, flags: flags, now: true})
	return nil
}

func (j *jobs) EnqueueAt(key scheduler.Key, at time.Time, flags scheduler.Flags) error {
	j.list = append(j.list, enqueued{key: key, at: at, flags: flags})
	return nil
}

func (j *jobs) Cancel(key scheduler.Key) bool {
	j.cancelled = append(j.cancelled, key)
	return true
}

type fixture struct {
	svc     *Service
	store   *memStore
	matcher *setMatcher
	entries *entries
	jobs    *jobs
}

func newFixture(t *testing.T, screener fakeScreener, sts ...models.Strategy) *fixture {
	t.Helper()
	f := &fixture{
		store:   newMemStore(sts...),
		matcher: &setMatcher{match: map[int64]bool{}},
		entries: &entries{},
		jobs:    &jobs{},
	}
	hours := indicator.MarketHours{Location: ist, OpenHour: 9, OpenMinute: 15, CloseHour: 15, CloseMinute: 30}
	f.svc = NewService(Deps{
		Store:       f.store,
		Instruments: universe{ids: []int64{1, 2, 3, 4}},
		Matcher:     f.matcher,
		Screener:    screener,
		Entries:     f.entries,
		Validator:   validator{},
		Jobs:        f.jobs,
	}, hours, Config{KickoffHour: 9, KickoffMinute: 0})
	f.svc.now = func() time.Time { return monday1030 }
	return f
}

func instrumentStrategy() models.Strategy {
	return models.Strategy{
		ID: 1, UserID: 3, Name: "gap up", Kind: models.SourceInstrumentBased,
		EntryRule: "ltp > prev_close", ExitRule: "ltp < prev_close",
		Deployed: true, DailyMaxEntries: 5, InstrumentIDs: []int64{1, 2, 3},
	}
}

func scan(t *testing.T, f *fixture, id int64, kickoff bool) scheduler.Next {
	t.Helper()
	next, err := f.svc.HandleEntryScan(context.Background(), scheduler.Job{
		Key:   scheduler.Key{Kind: scheduler.KindEntryScan, ID: id},
		Flags: scheduler.Flags{Kickoff: kickoff},
	})
	require.NoError(t, err)
	return next
}

func TestEntryScan_EntersMatchesAndReschedules(t *testing.T) {
	f := newFixture(t, fakeScreener{}, instrumentStrategy())
	f.matcher.match = map[int64]bool{2: true, 3: true}

	next := scan(t, f, 1, false)
	assert.Equal(t, time.Date(2026, 10, 19, 10, 31, 0, 0, ist), next.At.In(ist))
	assert.False(t, next.Flags.Kickoff)
	assert.Equal(t, []int64{2, 3}, f.entries.got)
	assert.Equal(t, []int64{2, 3}, f.store.row(1).EnteredInstrumentIDs)

	// по умолчанию повторный вход запрещен
	scan(t, f, 1, false)
	assert.Equal(t, []int64{1}, f.matcher.seen[1])
	assert.Equal(t, []int64{2, 3}, f.entries.got)
}

func TestEntryScan_ReEnterAllowance(t *testing.T) {
	st := instrumentStrategy()
	st.ReEnter = 2
	st.EnteredInstrumentIDs = []int64{2, 3, 3}
	f := newFixture(t, fakeScreener{}, st)

	scan(t, f, 1, false)
	assert.Equal(t, []int64{1, 2}, f.matcher.seen[0], "3 already entered twice")
}

func TestEntryScan_DailyCap(t *testing.T) {
	st := instrumentStrategy()
	st.DailyMaxEntries = 2
	st.EnteredInstrumentIDs = []int64{1, 2, 1}
	f := newFixture(t, fakeScreener{}, st)

	next := scan(t, f, 1, false)
	assert.True(t, next.At.IsZero())
	assert.Empty(t, f.matcher.seen)
	assert.Empty(t, f.store.row(1).EnteredInstrumentIDs)
}

func TestEntryScan_CapCheckedAtCycleStart(t *testing.T) {
	st := instrumentStrategy()
	st.DailyMaxEntries = 1
	f := newFixture(t, fakeScreener{}, st)
	f.matcher.match = map[int64]bool{2: true, 3: true}

	// все совпавшие в цикле входят, лимит сработает на следующем цикле
	next := scan(t, f, 1, false)
	assert.False(t, next.At.IsZero())
	assert.Equal(t, []int64{2, 3}, f.entries.got)
	assert.Equal(t, []int64{2, 3}, f.store.row(1).EnteredInstrumentIDs)

	next = scan(t, f, 1, false)
	assert.True(t, next.At.IsZero())
	assert.Len(t, f.matcher.seen, 1)
	assert.Empty(t, f.store.row(1).EnteredInstrumentIDs)
}

func TestEntryScan_ErrorsStopWithoutReschedule(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{
			name:  "store",
			setup: func(f *fixture) { f.store.getErr = errors.New("db down") },
		},
		{
			name: "candidates",
			setup: func(f *fixture) {
				row := f.store.rows[1]
				row.Kind = models.SourceRuleBased
				f.store.rows[1] = row
				f.svc.instruments = universe{err: errors.New("db down")}
			},
		},
		{
			name:  "matcher",
			setup: func(f *fixture) { f.matcher.err = errors.New("db down") },
		},
		{
			name: "entry rule",
			setup: func(f *fixture) {
				row := f.store.rows[1]
				row.EntryRule = "ltp >"
				f.store.rows[1] = row
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fakeScreener{}, instrumentStrategy())
			f.matcher.match = map[int64]bool{2: true}
			tt.setup(f)

			next := scan(t, f, 1, false)
			assert.True(t, next.At.IsZero())
			assert.Empty(t, f.entries.got)
		})
	}
}

func TestEntryScan_SaveFailureSkipsInstrumentAndStops(t *testing.T) {
	f := newFixture(t, fakeScreener{}, instrumentStrategy())
	f.matcher.match = map[int64]bool{2: true, 3: true}
	f.store.failSave[2] = true

	next := scan(t, f, 1, false)
	assert.True(t, next.At.IsZero())
	assert.Equal(t, []int64{3}, f.entries.got)
	assert.Equal(t, []int64{3}, f.store.row(1).EnteredInstrumentIDs)
}

func TestEntryScan_RuleBasedUsesUniverse(t *testing.T) {
	st := instrumentStrategy()
	st.Kind = models.SourceRuleBased
	st.InstrumentIDs = nil
	f := newFixture(t, fakeScreener{}, st)

	scan(t, f, 1, false)
	assert.Equal(t, []int64{1, 2, 3, 4}, f.matcher.seen[0])
}

func TestEntryScan_ScreenerKickoffRefreshesCandidates(t *testing.T) {
	st := instrumentStrategy()
	st.Kind = models.SourceScreenerBased
	st.ScreenerID = 9
	st.ScreenerExecutionTime = "10:30"
	st.InstrumentIDs = []int64{1}
	st.EnteredInstrumentIDs = []int64{1, 1, 1, 1, 1}
	f := newFixture(t, fakeScreener{ids: []int64{3, 4}}, st)
	f.matcher.match = map[int64]bool{4: true}

	next := scan(t, f, 1, true)
	assert.False(t, next.At.IsZero())
	assert.False(t, next.Flags.Kickoff)
	assert.Equal(t, []int64{3, 4}, f.matcher.seen[0])
	assert.Equal(t, []int64{3, 4}, f.store.row(1).InstrumentIDs)
	assert.Equal(t, []int64{4}, f.store.row(1).EnteredInstrumentIDs)
}

func TestEntryScan_ScreenerFailureStops(t *testing.T) {
	st := instrumentStrategy()
	st.Kind = models.SourceScreenerBased
	st.ScreenerID = 9
	f := newFixture(t, fakeScreener{err: rules.ErrInvalidRule}, st)

	next := scan(t, f, 1, true)
	assert.True(t, next.At.IsZero())
	assert.Empty(t, f.matcher.seen)
}

func TestEntryScan_StopsWithoutWork(t *testing.T) {
	empty := instrumentStrategy()
	empty.InstrumentIDs = nil
	undeployed := instrumentStrategy()
	undeployed.ID = 2
	undeployed.Deployed = false
	f := newFixture(t, fakeScreener{}, empty, undeployed)

	assert.True(t, scan(t, f, 1, false).At.IsZero(), "no candidates")
	assert.True(t, scan(t, f, 2, false).At.IsZero(), "undeployed")
	assert.True(t, scan(t, f, 404, false).At.IsZero(), "missing")
	assert.Empty(t, f.matcher.seen)
}

func TestDailyKickoff(t *testing.T) {
	plain := instrumentStrategy()
	screened := instrumentStrategy()
	screened.ID = 2
	screened.Kind = models.SourceScreenerBased
	screened.ScreenerID = 9
	screened.ScreenerExecutionTime = "11:45"
	screened.EnteredInstrumentIDs = []int64{7}
	screened.InstrumentIDs = []int64{7, 8}
	idle := instrumentStrategy()
	idle.ID = 3
	idle.Deployed = false
	f := newFixture(t, fakeScreener{}, plain, screened, idle)

	next, err := f.svc.HandleDailyKickoff(context.Background(), scheduler.Job{})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 20, 9, 0, 0, 0, ist), next.At.In(ist))

	require.Len(t, f.jobs.list, 2)
	assert.Equal(t, enqueued{key: scheduler.Key{Kind: scheduler.KindEntryScan, ID: 1}, now: true}, f.jobs.list[0])
	second := f.jobs.list[1]
	assert.Equal(t, scheduler.Key{Kind: scheduler.KindEntryScan, ID: 2}, second.key)
	assert.True(t, second.flags.Kickoff)
	assert.Equal(t, time.Date(2026, 10, 19, 11, 45, 0, 0, ist), second.at.In(ist))

	assert.Empty(t, f.store.row(2).EnteredInstrumentIDs)
	assert.Empty(t, f.store.row(2).InstrumentIDs)
}

func TestStartKickoff(t *testing.T) {
	f := newFixture(t, fakeScreener{})
	at, err := f.svc.StartKickoff()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 20, 9, 0, 0, 0, ist), at.In(ist), "09:00 already passed on monday")
	require.Len(t, f.jobs.list, 1)
	assert.Equal(t, scheduler.KindDailyKickoff, f.jobs.list[0].key.Kind)
}

func TestSaveDeployUndeploy(t *testing.T) {
	f := newFixture(t, fakeScreener{})

	st := instrumentStrategy()
	st.ID = 0
	st.DailyMaxEntries = 0
	require.NoError(t, f.svc.Save(context.Background(), &st))
	assert.Equal(t, models.DefaultDailyMaxEntries, st.DailyMaxEntries)
	require.Len(t, f.jobs.list, 1)
	assert.True(t, f.jobs.list[0].now)

	require.NoError(t, f.svc.Undeploy(context.Background(), st.ID))
	assert.False(t, f.store.row(st.ID).Deployed)
	assert.Equal(t, []scheduler.Key{{Kind: scheduler.KindEntryScan, ID: st.ID}}, f.jobs.cancelled)

	require.NoError(t, f.svc.Deploy(context.Background(), st.ID))
	assert.True(t, f.store.row(st.ID).Deployed)
	assert.Len(t, f.jobs.list, 2)

	assert.ErrorIs(t, f.svc.Deploy(context.Background(), 404), models.ErrNotFound)
}

func TestSaveRejectsInvalidRules(t *testing.T) {
	f := newFixture(t, fakeScreener{})
	f.svc.validator = validator{err: rules.ErrDangerousPattern}

	st := instrumentStrategy()
	err := f.svc.Save(context.Background(), &st)
	require.ErrorIs(t, err, rules.ErrDangerousPattern)
	assert.Empty(t, f.jobs.list)
}

func TestResume(t *testing.T) {
	plain := instrumentStrategy()
	later := instrumentStrategy()
	later.ID = 2
	later.Kind = models.SourceScreenerBased
	later.ScreenerID = 9
	later.ScreenerExecutionTime = "11:45"
	missed := later
	missed.ID = 3
	missed.ScreenerExecutionTime = "09:30"
	idle := instrumentStrategy()
	idle.ID = 4
	idle.Deployed = false
	f := newFixture(t, fakeScreener{}, plain, later, missed, idle)

	n, err := f.svc.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, f.jobs.list, 2, "a screener time that already passed waits for the next kickoff")
	assert.Equal(t, int64(1), f.jobs.list[0].key.ID)
	assert.True(t, f.jobs.list[0].now)
	assert.Equal(t, int64(2), f.jobs.list[1].key.ID)
	assert.True(t, f.jobs.list[1].flags.Kickoff)
}
