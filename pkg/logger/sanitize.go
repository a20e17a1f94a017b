package logger

import "strings"

// SanitizedEmail masks an email address for logging (e.g., "u***@e***.com")
func SanitizedEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "[invalid-email]"
	}

	username := maskTail(parts[0])

	domainParts := strings.Split(parts[1], ".")
	if len(domainParts) > 1 {
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", len(domainParts[i]))
		}
	}

	return username + "@" + strings.Join(domainParts, ".")
}

// SanitizedIdentity masks a login identity, which may be an email or a username
func SanitizedIdentity(identity string) string {
	if strings.Contains(identity, "@") {
		return SanitizedEmail(identity)
	}
	if identity == "" {
		return "[empty]"
	}
	return maskTail(identity)
}

// TokenPrefix returns the first 8 characters of a session token for correlation
func TokenPrefix(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:8] + "..."
}

func maskTail(s string) string {
	if len(s) <= 1 {
		return s
	}
	return s[:1] + strings.Repeat("*", len(s)-1)
}

var sensitiveParams = []string{
	"password", "token", "secret", "api_key", "apikey", "email", "auth", "session", "identity",
}

// SanitizeQueryString reports whether a raw query should be redacted entirely
func SanitizeQueryString(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
