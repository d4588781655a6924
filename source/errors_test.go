package source

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"
)

func TestClassifyFatalCodes(t *testing.T) {
	for _, code := range []string{
		"AccessDenied",
		"InvalidClientTokenId",
		"ExpiredToken",
		"AWS.SimpleQueueService.NonExistentQueue",
		"QueueDoesNotExist",
	} {
		err := classify("receive message", &smithy.GenericAPIError{Code: code, Message: "nope"})
		require.Equal(t, KindFatal, err.Kind, "code %s", code)
		require.Equal(t, code, err.Code)
		require.False(t, err.Retryable())
	}
}

func TestClassifyTransientCodes(t *testing.T) {
	err := classify("receive message", &smithy.GenericAPIError{Code: "ServiceUnavailable", Message: "try later"})
	require.Equal(t, KindTransient, err.Kind)
	require.Equal(t, "ServiceUnavailable", err.Code)
	require.True(t, err.Retryable())
}

func TestClassifyNetworkErrorsAreTransient(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := classify("receive message", fmt.Errorf("request failed: %w", cause))

	require.Equal(t, KindTransient, err.Kind)
	require.Empty(t, err.Code)
	require.ErrorIs(t, err, cause)
}

func TestBackendErrorMessageCarriesContext(t *testing.T) {
	err := classify("receive message", &smithy.GenericAPIError{Code: "Throttling", Message: "slow down"})
	require.Contains(t, err.Error(), "receive message")
	require.Contains(t, err.Error(), "transient")
	require.Contains(t, err.Error(), "Throttling")
}
