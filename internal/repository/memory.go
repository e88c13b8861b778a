package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/crasbi/crasbi-api/internal/models"
	"github.com/crasbi/crasbi-api/internal/utils"
)

// MemoryStore is an in-memory registry for tests. It enforces the same
// uniqueness and reference rules as the PostgreSQL schema.
type MemoryStore struct {
	mu     sync.Mutex
	cipher *utils.PasswordCipher
	conns  map[int64]*models.Connection
	jobs   map[int64]*models.Job
	nextID int64
	now    func() time.Time

	// FailNext, when set, is returned by the next repository call.
	FailNext error
}

func NewMemoryStore(cipher *utils.PasswordCipher) *MemoryStore {
	return &MemoryStore{
		cipher: cipher,
		conns:  make(map[int64]*models.Connection),
		jobs:   make(map[int64]*models.Job),
		now:    time.Now,
	}
}

func (s *MemoryStore) Connections() ConnectionRepository { return memConnections{s} }
func (s *MemoryStore) Jobs() JobRepository               { return memJobs{s} }

func (s *MemoryStore) failed() error {
	err := s.FailNext
	s.FailNext = nil
	return err
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

// stamp returns a strictly increasing timestamp so ordering by created_at is stable.
func (s *MemoryStore) stamp() time.Time {
	return s.now().Add(time.Duration(s.nextID) * time.Microsecond)
}

func paginate[T any](items []T, opts ListOptions) []T {
	limit, offset := opts.page()
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func matches(term string, fields ...string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), term) {
			return true
		}
	}
	return false
}

type memConnections struct{ s *MemoryStore }

func copyConn(c *models.Connection) *models.Connection {
	cp := *c
	cp.PasswordEncrypted = append([]byte(nil), c.PasswordEncrypted...)
	cp.Password = ""
	return &cp
}

func (r memConnections) List(_ context.Context, filter ConnectionFilter) ([]*models.Connection, int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return nil, 0, err
	}

	var out []*models.Connection
	for _, c := range s.conns {
		if filter.DBType != nil && c.DBType != *filter.DBType {
			continue
		}
		if filter.IsActive != nil && c.IsActive != *filter.IsActive {
			continue
		}
		if !matches(filter.Search, c.SourceName, c.Host, c.Username, string(c.DBType)) {
			continue
		}
		out = append(out, copyConn(c))
	}

	desc := strings.HasPrefix(filter.Ordering, "-")
	field := strings.TrimPrefix(filter.Ordering, "-")
	if _, ok := connectionOrdering[field]; !ok {
		field, desc = "created_at", true
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		var less bool
		switch field {
		case "source_name":
			less = a.SourceName < b.SourceName || (a.SourceName == b.SourceName && a.ID < b.ID)
		case "db_type":
			less = a.DBType < b.DBType || (a.DBType == b.DBType && a.ID < b.ID)
		case "host":
			less = a.Host < b.Host || (a.Host == b.Host && a.ID < b.ID)
		case "is_active":
			less = (!a.IsActive && b.IsActive) || (a.IsActive == b.IsActive && a.ID < b.ID)
		default:
			less = a.ID < b.ID
		}
		if desc {
			return !less
		}
		return less
	})
	return paginate(out, filter.ListOptions), len(out), nil
}

func (r memConnections) Get(_ context.Context, id int64) (*models.Connection, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return nil, err
	}
	c, ok := s.conns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConn(c), nil
}

func (r memConnections) duplicate(c *models.Connection) bool {
	for _, other := range r.s.conns {
		if other.ID != c.ID && other.SourceName == c.SourceName && other.Host == c.Host && other.Port == c.Port {
			return true
		}
	}
	return false
}

func (r memConnections) Create(_ context.Context, conn *models.Connection) (*models.Connection, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return nil, err
	}
	if fe := conn.StorageErrors(); fe != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidValue, fe)
	}
	if r.duplicate(conn) {
		return nil, fmt.Errorf("%w: source_connections_name_host_port_key", ErrDuplicate)
	}
	encrypted, err := s.cipher.EncryptPassword(conn.Password)
	if err != nil {
		return nil, err
	}

	stored := *conn
	stored.ID = s.id()
	stored.Password = ""
	stored.PasswordEncrypted = encrypted
	stored.CreatedAt = s.stamp()
	stored.UpdatedAt = stored.CreatedAt
	s.conns[stored.ID] = &stored
	return copyConn(&stored), nil
}

func (r memConnections) Update(_ context.Context, conn *models.Connection) (*models.Connection, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return nil, err
	}
	current, ok := s.conns[conn.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if fe := conn.StorageErrors(); fe != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidValue, fe)
	}
	if r.duplicate(conn) {
		return nil, fmt.Errorf("%w: source_connections_name_host_port_key", ErrDuplicate)
	}

	stored := *conn
	stored.PasswordEncrypted = current.PasswordEncrypted
	if conn.Password != "" {
		encrypted, err := s.cipher.EncryptPassword(conn.Password)
		if err != nil {
			return nil, err
		}
		stored.PasswordEncrypted = encrypted
	}
	stored.Password = ""
	stored.InsertedBy = current.InsertedBy
	stored.CreatedAt = current.CreatedAt
	stored.UpdatedAt = s.stamp()
	s.conns[stored.ID] = &stored
	return copyConn(&stored), nil
}

func (r memConnections) ToggleActive(_ context.Context, id int64) (*models.Connection, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return nil, err
	}
	c, ok := s.conns[id]
	if !ok {
		return nil, ErrNotFound
	}
	c.IsActive = !c.IsActive
	c.UpdatedAt = s.stamp()
	return copyConn(c), nil
}

func (r memConnections) Delete(_ context.Context, id int64) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return err
	}
	if _, ok := s.conns[id]; !ok {
		return ErrNotFound
	}
	dependents := 0
	for _, j := range s.jobs {
		if j.SourceID == id {
			dependents++
		}
	}
	if dependents > 0 {
		return &DependentJobsError{ConnectionID: id, Count: dependents}
	}
	delete(s.conns, id)
	return nil
}

type memJobs struct{ s *MemoryStore }

func (r memJobs) view(j *models.Job) *models.Job {
	cp := *j
	if c, ok := r.s.conns[j.SourceID]; ok {
		cp.SourceName = c.SourceName
	}
	return &cp
}

func (r memJobs) sorted(keep func(*models.Job) bool) []*models.Job {
	out := []*models.Job{}
	for _, j := range r.s.jobs {
		if keep(j) {
			out = append(out, r.view(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

func (r memJobs) List(_ context.Context, filter JobFilter) ([]*models.Job, int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return nil, 0, err
	}
	out := r.sorted(func(j *models.Job) bool {
		if filter.SourceID != nil && j.SourceID != *filter.SourceID {
			return false
		}
		return matches(filter.Search, j.JobName, j.SourceTable, j.TargetTable)
	})

	desc := strings.HasPrefix(filter.Ordering, "-")
	field := strings.TrimPrefix(filter.Ordering, "-")
	if _, ok := jobOrdering[field]; !ok {
		field, desc = "created_at", true
	}
	if field == "job_name" {
		sort.SliceStable(out, func(i, k int) bool { return out[i].JobName < out[k].JobName })
	}
	if desc {
		for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
			out[i], out[k] = out[k], out[i]
		}
	}
	return paginate(out, filter.ListOptions), len(out), nil
}

func (r memJobs) ListBySource(_ context.Context, sourceID int64) ([]*models.Job, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return nil, err
	}
	return r.sorted(func(j *models.Job) bool { return j.SourceID == sourceID }), nil
}

func (r memJobs) Get(_ context.Context, id int64) (*models.Job, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return nil, err
	}
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.view(j), nil
}

func (r memJobs) Create(_ context.Context, job *models.Job) (*models.Job, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return nil, err
	}
	if _, ok := s.conns[job.SourceID]; !ok {
		return nil, ErrInvalidReference
	}
	if fe := job.StorageErrors(); fe != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidValue, fe)
	}
	stored := *job
	stored.ID = s.id()
	stored.Status = models.JobStatusReady
	stored.CreatedAt = s.stamp()
	stored.UpdatedAt = stored.CreatedAt
	s.jobs[stored.ID] = &stored
	return r.view(&stored), nil
}

func (r memJobs) Update(_ context.Context, job *models.Job) (*models.Job, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return nil, err
	}
	current, ok := s.jobs[job.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if _, ok := s.conns[job.SourceID]; !ok {
		return nil, ErrInvalidReference
	}
	if fe := job.StorageErrors(); fe != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidValue, fe)
	}
	current.JobName = job.JobName
	current.SourceID = job.SourceID
	current.SourceTable = job.SourceTable
	current.TargetTable = job.TargetTable
	current.JobQuery = job.JobQuery
	current.UpdatedAt = s.stamp()
	return r.view(current), nil
}

func (r memJobs) Delete(_ context.Context, id int64) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return err
	}
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (r memJobs) MarkRunning(_ context.Context, id int64) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := s.stamp()
	j.Status = models.JobStatusRunning
	j.LastRunAt = &now
	return nil
}

func (r memJobs) MarkFinished(_ context.Context, id int64, status models.JobStatus, recordsProcessed int64, errMsg string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = status
	j.LastRecordsProcessed = &recordsProcessed
	j.LastError = nil
	if errMsg != "" {
		j.LastError = &errMsg
	}
	return nil
}
