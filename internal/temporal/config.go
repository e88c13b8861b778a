package temporal

import (
	"strconv"
	"time"
)

// DefaultTaskQueue is used when no task queue is configured.
const DefaultTaskQueue = "CRASBI_ETL"

// RunWorkflowIDPrefix prefixes run workflow IDs. The source connection id
// completes the ID, so only one run per connection can be open at a time.
const RunWorkflowIDPrefix = "crasbi-run-"

// DefaultActivityTimeout bounds a single activity when the run has no deadline.
const DefaultActivityTimeout = 10 * time.Minute

func RunWorkflowID(sourceID int64) string {
	return RunWorkflowIDPrefix + strconv.FormatInt(sourceID, 10)
}

// RunParams is the input of the run workflow.
type RunParams struct {
	RunID      string
	SourceID   int64
	JobID      int64
	JobTimeout time.Duration
}

// PrepareResult lists the jobs the run will execute, in order.
type PrepareResult struct {
	RunID    string
	SourceID int64
	JobIDs   []int64
}

// RunJobParams is the input of a single job activity.
type RunJobParams struct {
	RunID    string
	SourceID int64
	JobID    int64
}
