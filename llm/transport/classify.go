package transport

import (
	"github.com/BaSui01/agentflow/llm/rhealth"
)

// ClassifyStatus maps an HTTP response into an rhealth.ErrorKind per spec
// §4.3's table. authKind distinguishes the two 401 rows ("apikey" vs
// "oauth"); message is scanned for daily-quota keywords to split the two
// 429 rows.
func ClassifyStatus(statusCode int, authKind string, message string) rhealth.ErrorKind {
	switch {
	case statusCode == 400:
		return rhealth.ErrKind400
	case statusCode == 401:
		if authKind == "oauth" {
			return rhealth.ErrKind401OAuth
		}
		return rhealth.ErrKind401APIKey
	case statusCode == 402 || statusCode == 403:
		return rhealth.ErrKind402403
	case statusCode == 429:
		if rhealth.IsDailyQuota(message) {
			return rhealth.ErrKind429Daily
		}
		return rhealth.ErrKind429Short
	case statusCode == 500 || statusCode == 524 || (statusCode >= 500 && statusCode < 600):
		return rhealth.ErrKind5xx
	default:
		return rhealth.ErrKindInternal
	}
}

// ClassifyNetworkError is used when the request never reached the upstream
// (dial failure, context deadline, connection reset).
func ClassifyNetworkError(err error) rhealth.ErrorKind {
	_ = err
	return rhealth.ErrKindNetwork
}

// isRetryableKind reports whether Transport.Do should retry internally
// (network errors and 5xx/short-429 per spec's "Recoverable" column; 401
// oauth recovery is handled one layer up by the Provider, which owns the
// AuthProvider).
func isRetryableKind(k rhealth.ErrorKind) bool {
	switch k {
	case rhealth.ErrKindNetwork, rhealth.ErrKind5xx, rhealth.ErrKind429Short:
		return true
	default:
		return false
	}
}
