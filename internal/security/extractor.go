package security

import "net/http"

// DefaultAPIKeyHeader carries the raw api key.
const DefaultAPIKeyHeader = "X-API-KEY"

// credentialPlaceholder stands in for a password; the key itself is the
// principal.
const credentialPlaceholder = "N/A"

// ExtractCredentials returns the header value as principal and a fixed
// placeholder as credential. It does not validate anything.
func ExtractCredentials(r *http.Request, header string) (principal, credential string) {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return r.Header.Get(header), credentialPlaceholder
}
