// Package servicetest provides in-memory implementations of the service
// dependencies for tests.
package servicetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/songblend/api/internal/cache"
	"github.com/songblend/api/internal/model"
)

// ErrBoom is a generic injected failure.
var ErrBoom = errors.New("boom")

// JobStore is a map-backed durable store.
type JobStore struct {
	mu       sync.Mutex
	jobs     map[string]*model.Job
	order    []string
	getCalls int

	// FailNext, when set, is returned by the next Create, Update or Cancel.
	FailNext error
	// GetErr, when set, is returned by the next Get.
	GetErr error
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*model.Job)}
}

func (s *JobStore) Create(ctx context.Context, job *model.Job) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeErr(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	stored := *job
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.jobs[job.ID] = &stored
	s.order = append(s.order, job.ID)
	out := stored
	return &out, nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if err := s.GetErr; err != nil {
		s.GetErr = nil
		return nil, err
	}
	job, ok := s.jobs[id]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	out := *job
	return &out, nil
}

func (s *JobStore) Update(ctx context.Context, u model.JobUpdate) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeErr(); err != nil {
		return nil, err
	}
	job, ok := s.jobs[u.JobID]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	job.Status = u.Status
	job.Progress = u.Progress
	job.Error = u.Error
	job.OutputFileID = u.OutputFileID
	job.UpdatedAt = time.Now().UTC()
	job.CompletedAt = nil
	if u.Status == model.JobStatusCompleted {
		ts := job.UpdatedAt
		job.CompletedAt = &ts
	}
	out := *job
	return &out, nil
}

func (s *JobStore) Cancel(ctx context.Context, id, message string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeErr(); err != nil {
		return nil, err
	}
	job, ok := s.jobs[id]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	if job.IsDone() {
		return nil, fmt.Errorf("%w: status is %s", model.ErrJobTerminal, job.Status)
	}
	job.Status = model.JobStatusFailed
	job.Error = &message
	job.OutputFileID = nil
	job.CompletedAt = nil
	job.UpdatedAt = time.Now().UTC()
	out := *job
	return &out, nil
}

func (s *JobStore) List(ctx context.Context, limit, offset int) ([]model.Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Job, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, *s.jobs[s.order[i]])
	}
	total := len(out)
	if offset >= len(out) {
		return []model.Job{}, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (s *JobStore) takeErr() error {
	err := s.FailNext
	s.FailNext = nil
	return err
}

// Job returns a copy of the stored record. It panics if id is unknown.
func (s *JobStore) Job(id string) model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

// GetCalls counts reads that reached the store.
func (s *JobStore) GetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

// JobCache is a map-backed snapshot cache.
type JobCache struct {
	mu      sync.Mutex
	entries map[string]model.JobSnapshot
	broken  map[string]error
	deleted []string

	// SetErr, when set, fails every Set.
	SetErr error
}

func NewJobCache() *JobCache {
	return &JobCache{entries: make(map[string]model.JobSnapshot), broken: make(map[string]error)}
}

func (c *JobCache) Get(ctx context.Context, jobID string) (*model.JobSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.broken[jobID]; ok {
		return nil, err
	}
	snap, ok := c.entries[jobID]
	if !ok {
		return nil, cache.ErrMiss
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *JobCache) Set(ctx context.Context, snap model.JobSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SetErr != nil {
		return c.SetErr
	}
	delete(c.broken, snap.ID)
	c.entries[snap.ID] = snap
	return nil
}

func (c *JobCache) Delete(ctx context.Context, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, jobID)
	delete(c.broken, jobID)
	c.deleted = append(c.deleted, jobID)
	return nil
}

// Put stores a snapshot without validation, as a foreign writer might.
func (c *JobCache) Put(snap model.JobSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[snap.ID] = snap
}

// Corrupt makes the next reads of jobID fail with err until it is rewritten.
func (c *JobCache) Corrupt(jobID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broken[jobID] = err
}

func (c *JobCache) Snapshot(jobID string) (model.JobSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.entries[jobID]
	return snap, ok
}

func (c *JobCache) Deleted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deleted...)
}

// Catalog is a slice-backed song catalog ranking like the Postgres one.
type Catalog struct {
	Songs       []model.Song
	SearchCalls int
}

func NewCatalog(songs ...model.Song) *Catalog {
	return &Catalog{Songs: songs}
}

func (c *Catalog) FindByTitle(ctx context.Context, title string) ([]model.Song, error) {
	var out []model.Song
	for _, s := range c.Songs {
		if strings.EqualFold(s.Title, strings.TrimSpace(title)) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *Catalog) FindVersions(ctx context.Context, baseTitle string) ([]model.Song, error) {
	var out []model.Song
	for _, s := range c.Songs {
		if strings.EqualFold(s.BaseTitle, baseTitle) {
			out = append(out, s)
		}
	}
	return out, nil
}

// SearchCandidates returns every match unordered; callers rank.
func (c *Catalog) SearchCandidates(ctx context.Context, query string, limit int) ([]model.Song, error) {
	var out []model.Song
	for _, s := range c.Songs {
		if model.Matches(s, query) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *Catalog) SearchDistinct(ctx context.Context, query string, limit int) ([]model.Song, error) {
	c.SearchCalls++
	better := func(a, b model.Song) bool {
		ra, rb := model.MatchRank(a, query), model.MatchRank(b, query)
		if ra != rb {
			return ra < rb
		}
		return a.Title < b.Title
	}

	best := make(map[string]model.Song)
	for _, s := range c.Songs {
		if !model.Matches(s, query) {
			continue
		}
		if cur, ok := best[s.BaseTitle]; !ok || better(s, cur) {
			best[s.BaseTitle] = s
		}
	}

	out := make([]model.Song, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BaseTitle < out[j].BaseTitle })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *Catalog) ListAll(ctx context.Context) ([]model.Song, error) {
	return append([]model.Song(nil), c.Songs...), nil
}

// SearchCache is a map-backed search cache keyed like the Redis one.
type SearchCache struct {
	Entries map[string][]model.Song
}

func NewSearchCache() *SearchCache {
	return &SearchCache{Entries: make(map[string][]model.Song)}
}

func (c *SearchCache) Get(ctx context.Context, query string, limit int) ([]model.Song, error) {
	songs, ok := c.Entries[cache.SearchKey(query, limit)]
	if !ok {
		return nil, cache.ErrMiss
	}
	return songs, nil
}

func (c *SearchCache) Set(ctx context.Context, query string, limit int, songs []model.Song) error {
	c.Entries[cache.SearchKey(query, limit)] = songs
	return nil
}

// Dispatcher records tasks instead of running them.
type Dispatcher struct {
	mu    sync.Mutex
	Tasks []model.BlendTask
	Err   error
}

func (d *Dispatcher) Dispatch(ctx context.Context, task model.BlendTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	d.Tasks = append(d.Tasks, task)
	return nil
}

// Event is one call recorded by Publisher.
type Event struct {
	Kind     string
	JobID    string
	Status   model.JobStatus
	Progress int
	Detail   string
}

// Publisher records every published event.
type Publisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *Publisher) PublishProgress(jobID string, status model.JobStatus, progress int, stage string) {
	p.record(Event{Kind: "progress", JobID: jobID, Status: status, Progress: progress, Detail: stage})
}

func (p *Publisher) PublishComplete(jobID, outputFileID string) {
	p.record(Event{Kind: "complete", JobID: jobID, Detail: outputFileID})
}

func (p *Publisher) PublishFailed(jobID, code, message string) {
	p.record(Event{Kind: "failed", JobID: jobID, Detail: message})
}

func (p *Publisher) record(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *Publisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}
