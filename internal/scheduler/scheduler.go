package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"rule_trader/pkg/logger"
	"rule_trader/pkg/tracing"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
)

type Kind string

const (
	KindEntryScan    Kind = "entry_scan"
	KindExitScan     Kind = "exit_scan"
	KindDailyKickoff Kind = "daily_kickoff"
)

var (
	// ErrConflict значит, что задача с таким ключом уже ждет или выполняется.
	ErrConflict = errors.New("job already scheduled or running")
	ErrUnknown  = errors.New("no handler for job kind")
)

type Key struct {
	Kind Kind
	ID   int64
}

func (k Key) String() string { return fmt.Sprintf("%s:%d", k.Kind, k.ID) }

// Flags хранит параметры конкретного запуска.
type Flags struct {
	Kickoff bool // первый цикл дня для стратегии на скринере
}

type Job struct {
	Key
	At    time.Time
	Flags Flags
	RunID string
}

// Next говорит, когда запускать снова. Нулевой At означает «больше не запускать».
type Next struct {
	At    time.Time
	Flags Flags
}

func Stop() Next { return Next{} }

func At(t time.Time) Next { return Next{At: t} }

type Handler func(ctx context.Context, job Job) (Next, error)

type registration struct {
	fn     Handler
	unique bool
}

type entry struct {
	job       Job
	index     int
	running   bool
	cancelled bool
}

// Scheduler владеет таймерами всех сущностей: одна запись на ключ,
// следующий запуск определяет сам обработчик.
type Scheduler struct {
	mu       sync.Mutex
	handlers map[Kind]registration
	entries  map[Key]*entry
	queue    entryHeap
	wake     chan struct{}

	workers int
	now     func() time.Time
	onTick  func(time.Time)
}

func New(workers int) *Scheduler {
	if workers <= 0 {
		workers = 4
	}
	return &Scheduler{
		handlers: make(map[Kind]registration),
		entries:  make(map[Key]*entry),
		wake:     make(chan struct{}, 1),
		workers:  workers,
		now:      time.Now,
	}
}

// OnTick вызывается на каждом проходе цикла, для health.
func (s *Scheduler) OnTick(fn func(time.Time)) { s.onTick = fn }

// Register задает обработчик. unique=true: повторная постановка, пока задача
// ждет или выполняется, отклоняется с ErrConflict.
func (s *Scheduler) Register(kind Kind, unique bool, fn Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = registration{fn: fn, unique: unique}
}

func (s *Scheduler) EnqueueNow(key Key, flags Flags) error {
	return s.EnqueueAt(key, s.now(), flags)
}

func (s *Scheduler) EnqueueAt(key Key, at time.Time, flags Flags) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.handlers[key.Kind]
	if !ok {
		return errors.Wrap(ErrUnknown, string(key.Kind))
	}
	if e, ok := s.entries[key]; ok {
		if reg.unique || e.running {
			return errors.Wrap(ErrConflict, key.String())
		}
		e.job.At = at
		e.job.Flags = flags
		heap.Fix(&s.queue, e.index)
		s.signal()
		return nil
	}

	e := &entry{job: Job{Key: key, At: at, Flags: flags}}
	s.entries[key] = e
	heap.Push(&s.queue, e)
	s.signal()
	return nil
}

// Cancel снимает задачу. Если она выполняется, текущий запуск доработает,
// но следующий не будет запланирован.
func (s *Scheduler) Cancel(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	if e.running {
		e.cancelled = true
		return true
	}
	heap.Remove(&s.queue, e.index)
	delete(s.entries, key)
	return true
}

type JobInfo struct {
	Key     string    `json:"key"`
	At      time.Time `json:"at"`
	Running bool      `json:"running"`
	Kickoff bool      `json:"kickoff"`
}

func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, JobInfo{Key: e.job.Key.String(), At: e.job.At, Running: e.running, Kickoff: e.job.Flags.Kickoff})
	}
	return out
}

func (s *Scheduler) Scheduled(key Key) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return e.job.At, true
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run крутит цикл до отмены ctx и дожидается выполняющихся задач.
func (s *Scheduler) Run(ctx context.Context) {
	p := pool.New().WithMaxGoroutines(s.workers)
	defer p.Wait()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		due, wait := s.popDue()
		for _, job := range due {
			p.Go(func() { s.run(ctx, job) })
		}
		if s.onTick != nil {
			s.onTick(s.now())
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

const idleWait = time.Minute

func (s *Scheduler) popDue() ([]Job, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var due []Job
	for s.queue.Len() > 0 {
		head := s.queue[0]
		if head.job.At.After(now) {
			return due, head.job.At.Sub(now)
		}
		heap.Pop(&s.queue)
		head.running = true
		head.job.RunID = uuid.NewString()
		due = append(due, head.job)
	}
	return due, idleWait
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	var (
		next Next
		err  error
	)
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("panic: %v", p)
			next = Stop()
		}
		if err != nil {
			logger.Error("job %s run=%s failed: %v", job.Key, job.RunID, err)
		}
		s.finish(job.Key, next, err)
	}()

	s.mu.Lock()
	reg := s.handlers[job.Kind]
	s.mu.Unlock()

	span, ctx := tracing.StartSpan(ctx, "scheduler.job", opentracing.Tags{
		"job.key": job.Key.String(),
		"job.run": job.RunID,
	})
	defer func() { tracing.Finish(span, err) }()

	next, err = reg.fn(ctx, job)
}

func (s *Scheduler) finish(key Key, next Next, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return
	}
	e.running = false
	if e.cancelled || err != nil || next.At.IsZero() {
		delete(s.entries, key)
		return
	}
	e.job.At = next.At
	e.job.Flags = next.Flags
	e.job.RunID = ""
	heap.Push(&s.queue, e)
	s.signal()
}

type entryHeap []*entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].job.At.Before(h[j].job.At) }

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
