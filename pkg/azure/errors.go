package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/cometsec/comet/pkg/retry"
)

// StatusError is an HTTP failure from a REST call made outside the ARM SDK
// clients (paged fetches, event hub posts).
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s returned %s: %s", e.URL, e.Status, e.Body)
	}
	return fmt.Sprintf("%s returned %s", e.URL, e.Status)
}

const rbacRemediation = "grant the identity the Reader role on the target scope; RBAC propagation may take up to 24 hours"

var networkPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
	"timeout",
	"tls handshake",
	"broken pipe",
	"network is unreachable",
	"unexpected eof",
}

var sinkKeywords = []string{"servicebus", "eventhub", "event hub"}

// Classify maps an error onto retry handling policy. It inspects the whole
// unwrap chain, so wrapping with %w never changes the outcome. Unknown
// errors classify as retryable: most transient faults look unknown at first
// encounter, and a wasted retry is cheaper than a lost batch.
func Classify(err error) retry.Classification {
	if err == nil {
		return retry.Classification{}
	}

	var authErr *azidentity.AuthenticationFailedError
	if errors.As(err, &authErr) {
		if authErr.RawResponse != nil && authErr.RawResponse.StatusCode == http.StatusForbidden {
			return retry.Classification{
				Category:    retry.CategoryAuthorization,
				Fatal:       true,
				Remediation: rbacRemediation,
			}
		}
		return retry.Classification{
			Category:    retry.CategoryAuthentication,
			Fatal:       true,
			Remediation: "verify the credential configuration (client id, federated token, tenant)",
		}
	}

	if code, ok := StatusCode(err); ok {
		return classifyStatus(code)
	}

	if isNetworkError(err) {
		return retry.Classification{Category: retry.CategoryNetwork, Retryable: true}
	}

	if hasSinkKeyword(err) {
		return retry.Classification{
			Category:    retry.CategoryConfiguration,
			Fatal:       true,
			Remediation: "check the event hub namespace and hub name",
		}
	}

	if errors.Is(err, context.Canceled) {
		return retry.Classification{Category: retry.CategoryUnknown}
	}

	return retry.Classification{Category: retry.CategoryUnknown, Retryable: true}
}

// StatusCode pulls an HTTP status from anywhere in err's unwrap chain.
func StatusCode(err error) (int, bool) {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode, true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, true
	}
	var authErr *azidentity.AuthenticationFailedError
	if errors.As(err, &authErr) && authErr.RawResponse != nil {
		return authErr.RawResponse.StatusCode, true
	}
	return 0, false
}

func classifyStatus(code int) retry.Classification {
	switch {
	case code == http.StatusUnauthorized:
		return retry.Classification{
			Category:    retry.CategoryAuthentication,
			Fatal:       true,
			Remediation: "verify the credential configuration (client id, federated token, tenant)",
		}
	case code == http.StatusForbidden:
		return retry.Classification{
			Category:    retry.CategoryAuthorization,
			Fatal:       true,
			Remediation: rbacRemediation,
		}
	case code == http.StatusNotFound:
		return retry.Classification{
			Category:    retry.CategoryConfiguration,
			Fatal:       true,
			Remediation: "check the target path, subscription id and event hub namespace/hub name",
		}
	case code == http.StatusRequestTimeout:
		return retry.Classification{Category: retry.CategoryNetwork, Retryable: true}
	case code == http.StatusRequestEntityTooLarge:
		return retry.Classification{
			Category:    retry.CategoryPayloadTooLarge,
			Remediation: "reduce batch.targetBytes below the event hub tier's message limit",
		}
	case code == http.StatusTooManyRequests:
		return retry.Classification{Category: retry.CategoryRateLimit, Retryable: true}
	case code >= 500:
		return retry.Classification{Category: retry.CategoryServer, Retryable: true}
	default:
		return retry.Classification{Category: retry.CategoryUnknown, Retryable: true}
	}
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range networkPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func hasSinkKeyword(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, keyword := range sinkKeywords {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}
