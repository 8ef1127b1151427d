// Package transport implements HttpTransport: the low-level outbound call
// a Provider makes once it has a resolved URL, headers and a serialized
// body (spec §4.7) — URL join avoiding a duplicate `/v1`, per-provider
// timeout, retry-on-transient-status via llm/retry, and classification of
// the response into an llm/rhealth.ErrorKind so the caller can update
// health/cooldown state without duplicating the classification table.
//
// Grounded on internal/tlsutil.SecureHTTPClient for the underlying
// *http.Client and llm/retry.backoffRetryer for the retry loop.
package transport
