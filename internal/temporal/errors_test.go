package temporal

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	sdktemporal "go.temporal.io/sdk/temporal"

	"github.com/crasbi/crasbi-api/internal/engine"
	"github.com/crasbi/crasbi-api/internal/models"
)

func TestEncodeErrorSentinels(t *testing.T) {
	cases := map[error]string{
		engine.ErrSourceNotFound:     ErrTypeSourceNotFound,
		engine.ErrJobNotFound:        ErrTypeJobNotFound,
		engine.ErrConnectionInactive: ErrTypeConnectionInactive,
	}
	for sentinel, typ := range cases {
		encoded := EncodeError(fmt.Errorf("source connection 4: %w", sentinel))

		var appErr *sdktemporal.ApplicationError
		require.True(t, errors.As(encoded, &appErr))
		assert.Equal(t, typ, appErr.Type())
		assert.True(t, appErr.NonRetryable())

		_, decoded := DecodeError(encoded)
		assert.ErrorIs(t, decoded, sentinel)
		assert.Contains(t, decoded.Error(), "source connection 4")
	}
}

func TestEncodeErrorFieldErrors(t *testing.T) {
	encoded := EncodeError(models.FieldErrors{"job_id": {"Job 3 does not belong to source connection 4."}})

	_, decoded := DecodeError(encoded)
	var fieldErrs models.FieldErrors
	require.ErrorAs(t, decoded, &fieldErrs)
	assert.Equal(t, []string{"Job 3 does not belong to source connection 4."}, fieldErrs["job_id"])
}

func TestEncodeErrorPassesThroughOthers(t *testing.T) {
	boom := errors.New("boom")
	assert.Equal(t, boom, EncodeError(boom))
}

func TestDecodeJobFailure(t *testing.T) {
	partial := models.RunResult{
		RunID:  "r1",
		Status: models.RunStatusError,
		Jobs: []models.JobRunResult{
			{JobID: 1, Status: models.RunStatusSuccess, RecordsProcessed: 2},
			{JobID: 2, Status: models.RunStatusError, Message: "boom"},
		},
		RecordsProcessed: 2,
		Message:          "job 2 failed: boom",
	}

	result, err := DecodeError(JobFailedError(partial, false))
	var runErr *engine.RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, int64(2), runErr.JobID)
	assert.False(t, runErr.Timeout())
	assert.Equal(t, partial.Jobs, result.Jobs)
	assert.Equal(t, int64(2), result.RecordsProcessed)

	_, err = DecodeError(JobFailedError(partial, true))
	require.ErrorAs(t, err, &runErr)
	assert.True(t, runErr.Timeout())
}

func TestDecodeWorkflowTimeout(t *testing.T) {
	_, err := DecodeError(sdktemporal.NewTimeoutError(enumspb.TIMEOUT_TYPE_START_TO_CLOSE, nil))

	var runErr *engine.RunError
	require.ErrorAs(t, err, &runErr)
	assert.True(t, runErr.Timeout())
}

func TestRunWorkflowID(t *testing.T) {
	assert.Equal(t, "crasbi-run-42", RunWorkflowID(42))
}
