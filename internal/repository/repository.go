package repository

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write would break a reference between records.
	ErrConflict = errors.New("record is referenced by other records")
	// ErrDuplicate is returned on unique constraint violations.
	ErrDuplicate = errors.New("record already exists")
	// ErrInvalidReference is returned when a foreign key points at nothing.
	ErrInvalidReference = errors.New("referenced record does not exist")
	// ErrInvalidValue is returned when a value does not fit its column.
	ErrInvalidValue = errors.New("value cannot be stored")
)

// DependentJobsError rejects deleting a connection that jobs still use.
type DependentJobsError struct {
	ConnectionID int64
	Count        int
}

func (e *DependentJobsError) Error() string {
	return fmt.Sprintf("connection %d is used by %d job(s)", e.ConnectionID, e.Count)
}

func (e *DependentJobsError) Is(target error) bool {
	return target == ErrConflict
}

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
	MaxOffset       = math.MaxInt32
)

// ListOptions are the search, ordering and paging parameters shared by list queries.
type ListOptions struct {
	Search   string
	Ordering string
	Limit    int
	Offset   int
}

// Bounds returns the limit and offset a query will actually use.
func (o ListOptions) Bounds() (limit, offset int) {
	return o.page()
}

func (o ListOptions) page() (limit, offset int) {
	limit, offset = o.Limit, o.Offset
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	if offset > MaxOffset {
		offset = MaxOffset
	}
	return limit, offset
}

// orderBy resolves a "field" or "-field" ordering against an allow-list of columns.
func orderBy(ordering string, allowed map[string]string, idCol, fallback string) string {
	ordering = strings.TrimSpace(ordering)
	desc := strings.HasPrefix(ordering, "-")
	col, ok := allowed[strings.TrimPrefix(ordering, "-")]
	if !ok {
		return fallback
	}
	if desc {
		return col + " DESC, " + idCol + " DESC"
	}
	return col + " ASC, " + idCol + " ASC"
}

// whereBuilder accumulates AND-ed conditions with positional placeholders.
type whereBuilder struct {
	conds []string
	args  []interface{}
}

func (w *whereBuilder) add(cond string, arg interface{}) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(w.args))))
}

func (w *whereBuilder) search(term string, cols ...string) {
	term = strings.TrimSpace(term)
	if term == "" {
		return
	}
	w.args = append(w.args, "%"+escapeLike(term)+"%")
	p := "$" + strconv.Itoa(len(w.args))
	ors := make([]string, len(cols))
	for i, c := range cols {
		ors[i] = c + " ILIKE " + p
	}
	w.conds = append(w.conds, "("+strings.Join(ors, " OR ")+")")
}

func (w *whereBuilder) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (w *whereBuilder) next() string {
	return "$" + strconv.Itoa(len(w.args)+1)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// translate maps PostgreSQL constraint and data violations to repository errors.
func translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
		case "23503":
			if strings.HasPrefix(pqErr.Message, "update or delete") {
				return fmt.Errorf("%w: %s", ErrConflict, pqErr.Constraint)
			}
			return fmt.Errorf("%w: %s", ErrInvalidReference, pqErr.Constraint)
		case "22001", "22021":
			return fmt.Errorf("%w: %s", ErrInvalidValue, pqErr.Message)
		}
	}
	return err
}
