package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorFormat(t *testing.T) {
	err := New(ErrCodeInvalidData, "dataset too small")
	assert.Equal(t, "[FIT_001] dataset too small", err.Error())

	withDetail := err.WithDetail("n=1")
	assert.Equal(t, "[FIT_001] dataset too small: n=1", withDetail.Error())
	// The original is untouched.
	assert.Equal(t, "[FIT_001] dataset too small", err.Error())
}

func TestNewf(t *testing.T) {
	err := Newf(ErrCodeNotFound, "run %s missing", "r-42")
	assert.Equal(t, ErrCodeNotFound, err.Code)
	assert.Contains(t, err.Error(), "run r-42 missing")
}

func TestWithDetailf(t *testing.T) {
	err := InvalidData("bad count").WithDetailf("unit_id=%s count=%d", "N-0007", -3)
	assert.Equal(t, "unit_id=N-0007 count=-3", err.Detail)
}

func TestNilReceiverSafety(t *testing.T) {
	var e *AppError
	assert.Nil(t, e.WithDetail("x"))
	assert.Nil(t, e.WithCause(stderrors.New("y")))
}

func TestWrap(t *testing.T) {
	base := stderrors.New("connection refused")
	err := Wrap(base, ErrCodeDatabaseError, "failed to load observations")

	assert.Equal(t, ErrCodeDatabaseError, err.Code)
	assert.True(t, stderrors.Is(err, base))
	assert.Equal(t, base, stderrors.Unwrap(err))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "ignored"))
}

func TestWrapPreservesCodeThroughUnknown(t *testing.T) {
	inner := SingularHessian("not positive-definite")
	outer := Wrap(inner, ErrCodeUnknown, "fit failed")
	assert.Equal(t, ErrCodeSingularHessian, outer.Code)

	// An explicit code wins.
	relabeled := Wrap(inner, ErrCodeInternal, "fit failed")
	assert.Equal(t, ErrCodeInternal, relabeled.Code)
	// But the original remains findable in the chain.
	assert.True(t, IsCode(relabeled, ErrCodeSingularHessian))
}

func TestIsCode(t *testing.T) {
	err := NumericalOverflow("eta too large")
	assert.True(t, IsCode(err, ErrCodeNumericalOverflow))
	assert.False(t, IsCode(err, ErrCodeInvalidData))
	assert.False(t, IsCode(nil, ErrCodeInvalidData))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsCode(wrapped, ErrCodeNumericalOverflow))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, CodeOK, GetCode(nil))
	assert.Equal(t, ErrCodeUnknown, GetCode(stderrors.New("plain")))
	assert.Equal(t, ErrCodeInvalidData, GetCode(InvalidData("x")))
	assert.Equal(t, ErrCodeCacheError, GetCode(fmt.Errorf("wrap: %w", New(ErrCodeCacheError, "miss"))))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NumericalOverflow("x")))
	assert.True(t, IsRetryable(New(ErrCodeDatabaseError, "x")))
	assert.True(t, IsRetryable(New(ErrCodeMessageQueueError, "x")))
	assert.False(t, IsRetryable(InvalidData("x")))
	assert.False(t, IsRetryable(SingularHessian("x")))
	assert.False(t, IsRetryable(nil))
}

func TestFactoriesSetCodes(t *testing.T) {
	tests := []struct {
		err  *AppError
		code ErrorCode
	}{
		{InvalidData("m"), ErrCodeInvalidData},
		{NumericalOverflow("m"), ErrCodeNumericalOverflow},
		{SingularHessian("m"), ErrCodeSingularHessian},
		{DegenerateExpectation("m"), ErrCodeDegenerateExpectation},
		{NotFound("m"), ErrCodeNotFound},
		{Internal("m"), ErrCodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, tt.err.Code)
		assert.NotEmpty(t, tt.err.Stack)
	}
}

func TestHTTPStatusForCode(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatusForCode(ErrCodeInvalidData))
	assert.Equal(t, http.StatusNotFound, HTTPStatusForCode(ErrCodeFitNotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatusForCode(ErrCodeDatasetDuplicate))
	assert.Equal(t, http.StatusBadRequest, HTTPStatusForCode(ErrCodeDatasetParse))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusForCode(ErrorCode("NO_SUCH")))
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(ErrCodeInvalidData))
	assert.True(t, IsClientError(ErrCodeBadRequest))
	assert.False(t, IsClientError(ErrCodeInternal))
	assert.False(t, IsClientError(ErrCodeNumericalOverflow))
}

func TestStackCaptured(t *testing.T) {
	err := New(ErrCodeInternal, "boom")
	require.NotEmpty(t, err.Stack)
	assert.Contains(t, err.Stack, "errors_test.go")
}
