package db

import (
	"net/url"
	"strings"
)

// Redacted returns dsn with any password masked, for logging. Key/value
// DSNs without a URL scheme are reduced to their host and dbname.
func Redacted(dsn string) string {
	if !strings.Contains(dsn, "://") {
		var keep []string
		for _, f := range strings.Fields(dsn) {
			if strings.HasPrefix(f, "host=") || strings.HasPrefix(f, "dbname=") || strings.HasPrefix(f, "port=") {
				keep = append(keep, f)
			}
		}
		return strings.Join(keep, " ")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "invalid dsn"
	}
	return u.Redacted()
}
