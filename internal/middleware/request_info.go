package middleware

import (
	"net/http"

	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// RequestInfo builds the request view used by the security core and stores it
// on the request context. Client IP and transport security honor forwarding
// headers only from trusted proxies.
func RequestInfo(ipConfig *pkghttp.IPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := models.RequestInfo{
				IPAddress: pkghttp.NormalizeIP(pkghttp.ExtractClientIP(r, ipConfig)),
				UserAgent: r.UserAgent(),
				Secure:    pkghttp.IsSecureRequest(r, ipConfig),
				URL:       r.URL.Path,
				Method:    r.Method,
			}
			next.ServeHTTP(w, r.WithContext(models.WithRequestInfo(r.Context(), info)))
		})
	}
}

// GetRequestInfo returns the request info stored by RequestInfo. Without it the
// info is derived from the raw request with no trusted proxies.
func GetRequestInfo(r *http.Request) models.RequestInfo {
	if info, ok := models.RequestInfoFromContext(r.Context()); ok {
		return info
	}
	return models.RequestInfo{
		IPAddress: pkghttp.NormalizeIP(pkghttp.ExtractClientIP(r, nil)),
		UserAgent: r.UserAgent(),
		Secure:    r.TLS != nil,
		URL:       r.URL.Path,
		Method:    r.Method,
	}
}
