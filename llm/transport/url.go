package transport

import "strings"

// ResolveURL joins baseURL and endpoint without producing a duplicate
// `/v1` segment — e.g. baseURL "https://api.example.com/v1" + endpoint
// "/v1/chat/completions" resolves to ".../v1/chat/completions", not
// ".../v1/v1/chat/completions" (spec §4.7).
func ResolveURL(baseURL, endpoint string) string {
	base := strings.TrimRight(baseURL, "/")
	ep := "/" + strings.TrimLeft(endpoint, "/")

	if strings.HasSuffix(base, "/v1") && strings.HasPrefix(ep, "/v1/") {
		ep = strings.TrimPrefix(ep, "/v1")
	}
	return base + ep
}
