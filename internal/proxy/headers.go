package proxy

import (
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// hopHeaders are never forwarded in either direction, mirroring the set
// net/http/httputil.ReverseProxy strips: they describe this specific
// connection, not the resource, so relaying them to the other leg is wrong
// regardless of which way traffic flows.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// copyHeaders copies every header from src to dst except hop-by-hop headers
// and any header named as a Connection token. src is left unmodified.
func copyHeaders(dst, src http.Header) {
	skip := make(map[string]bool, len(hopHeaders))
	for _, h := range hopHeaders {
		skip[h] = true
	}
	for _, token := range connectionTokens(src) {
		skip[http.CanonicalHeaderKey(token)] = true
	}
	for k, vv := range src {
		if skip[k] {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// connectionTokens returns the extra header names listed in a Connection
// header, which httpguts validates as real header-field tokens.
func connectionTokens(h http.Header) []string {
	var tokens []string
	for _, f := range h["Connection"] {
		for _, token := range strings.Split(f, ",") {
			token = strings.TrimSpace(token)
			if token != "" && httpguts.ValidHeaderFieldName(token) {
				tokens = append(tokens, token)
			}
		}
	}
	return tokens
}
