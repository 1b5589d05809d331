package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPErrorShape(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteHTTPUnprocessableEntity(rr, "bad time string", errors.New("cannot parse 99:99"))

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, float64(422), body["code"])
	require.Contains(t, body["detail"], "bad time string")
	require.Contains(t, body["detail"], "cannot parse 99:99")
}

func TestUnretriableWrapping(t *testing.T) {
	base := errors.New("boom")
	require.False(t, IsUnretriable(base))
	require.True(t, IsUnretriable(Unretriable(base)))

	// validation errors are never retried
	verr := NewPipelineError(KindValidation, base)
	require.True(t, IsUnretriable(verr))
	require.Equal(t, KindValidation, KindOf(verr))

	// upstream unavailability stays retryable
	uerr := NewPipelineError(KindUpstreamUnavailable, base)
	require.False(t, IsUnretriable(uerr))
	require.Equal(t, KindUpstreamUnavailable, KindOf(uerr))

	require.Equal(t, KindInternal, KindOf(base))
}

func TestObjectNotFound(t *testing.T) {
	err := NewObjectNotFoundError("no such key", nil)
	require.True(t, IsObjectNotFound(err))
	require.True(t, IsUnretriable(err))
	require.False(t, IsObjectNotFound(errors.New("other")))
}
