package azure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cometsec/comet/pkg/retry"
)

func status(code int) *StatusError {
	return &StatusError{StatusCode: code, Status: http.StatusText(code), URL: "https://example.test/x"}
}

func TestClassifyStatusCodes(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		category  retry.Category
		fatal     bool
		retryable bool
	}{
		{"401 is fatal authentication", status(401), retry.CategoryAuthentication, true, false},
		{"403 is fatal authorization", status(403), retry.CategoryAuthorization, true, false},
		{"404 is fatal configuration", status(404), retry.CategoryConfiguration, true, false},
		{"408 retries as network", status(408), retry.CategoryNetwork, false, true},
		{"413 fails without retry but not fatally", status(413), retry.CategoryPayloadTooLarge, false, false},
		{"429 retries as rate limit", status(429), retry.CategoryRateLimit, false, true},
		{"500 retries as server", status(500), retry.CategoryServer, false, true},
		{"503 retries as server", status(503), retry.CategoryServer, false, true},
		{"418 falls back to retryable unknown", status(418), retry.CategoryUnknown, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class := Classify(tt.err)
			assert.Equal(t, tt.category, class.Category)
			assert.Equal(t, tt.fatal, class.Fatal, "fatal")
			assert.Equal(t, tt.retryable, class.Retryable, "retryable")
		})
	}
}

func TestClassifySurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("exporting users: %w", fmt.Errorf("fetch page: %w", status(403)))

	class := Classify(err)

	assert.Equal(t, retry.CategoryAuthorization, class.Category)
	assert.True(t, class.Fatal)
	assert.Contains(t, class.Remediation, "RBAC propagation")
}

func TestClassifyResponseError(t *testing.T) {
	err := &azcore.ResponseError{StatusCode: http.StatusTooManyRequests}

	class := Classify(fmt.Errorf("list resources: %w", err))

	assert.Equal(t, retry.CategoryRateLimit, class.Category)
	assert.True(t, class.Retryable)
}

func TestClassifyAuthenticationFailed(t *testing.T) {
	t.Run("with forbidden response", func(t *testing.T) {
		err := &azidentity.AuthenticationFailedError{
			RawResponse: &http.Response{StatusCode: http.StatusForbidden},
		}
		class := Classify(err)
		assert.Equal(t, retry.CategoryAuthorization, class.Category)
		assert.True(t, class.Fatal)
	})

	t.Run("without response", func(t *testing.T) {
		err := &azidentity.AuthenticationFailedError{}
		class := Classify(err)
		assert.Equal(t, retry.CategoryAuthentication, class.Category)
		assert.True(t, class.Fatal)
		assert.False(t, class.Retryable)
	})
}

func TestClassifyNetworkErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"connection refused text", errors.New("dial tcp 10.0.0.1:443: connection refused")},
		{"dns failure type", &net.DNSError{Err: "lookup failed", Name: "example.test"}},
		{"deadline exceeded", context.DeadlineExceeded},
		{"wrapped timeout text", fmt.Errorf("send: %w", errors.New("i/o timeout"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class := Classify(tt.err)
			assert.Equal(t, retry.CategoryNetwork, class.Category)
			assert.True(t, class.Retryable)
			assert.False(t, class.Fatal)
		})
	}
}

func TestClassifySinkKeyword(t *testing.T) {
	t.Run("namespace term alone is fatal", func(t *testing.T) {
		err := errors.New("the messaging entity 'contoso.servicebus.windows.net/hub' could not be located")
		class := Classify(err)
		assert.Equal(t, retry.CategoryConfiguration, class.Category)
		assert.True(t, class.Fatal)
	})

	t.Run("network pattern wins over namespace term", func(t *testing.T) {
		err := errors.New("dial tcp: lookup contoso.servicebus.windows.net: no such host")
		class := Classify(err)
		assert.Equal(t, retry.CategoryNetwork, class.Category)
		assert.True(t, class.Retryable)
	})
}

func TestClassifyDefaultsAndCancellation(t *testing.T) {
	t.Run("unknown errors retry", func(t *testing.T) {
		class := Classify(errors.New("something odd happened"))
		assert.Equal(t, retry.CategoryUnknown, class.Category)
		assert.True(t, class.Retryable)
		assert.False(t, class.Fatal)
	})

	t.Run("cancellation does not retry", func(t *testing.T) {
		class := Classify(fmt.Errorf("fetch: %w", context.Canceled))
		assert.False(t, class.Retryable)
		assert.False(t, class.Fatal)
	})
}

func TestClassifyRemediationTexts(t *testing.T) {
	assert.Contains(t, Classify(status(403)).Remediation, "Reader role")
	assert.Contains(t, Classify(status(413)).Remediation, "batch.targetBytes")
	assert.Contains(t, Classify(status(404)).Remediation, "event hub")
}

func TestStatusCode(t *testing.T) {
	code, ok := StatusCode(fmt.Errorf("wrapped: %w", status(502)))
	require.True(t, ok)
	assert.Equal(t, 502, code)

	_, ok = StatusCode(errors.New("no status here"))
	assert.False(t, ok)
}
