package checks

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

func formatMilliseconds(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1f ms", float64(d.Microseconds())/1000.0)
}

// matchKeywords returns the keywords found in body, compared case-insensitively.
func matchKeywords(body string, keywords []string) (matched []string, all bool) {
	if len(keywords) == 0 {
		return nil, true
	}

	lower := strings.ToLower(body)
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}

	want := 0
	for _, kw := range keywords {
		if strings.TrimSpace(kw) != "" {
			want++
		}
	}

	return matched, len(matched) == want
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// requestPath turns a content URL (absolute or a bare path) into a request target.
func requestPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "/"
	}
	if i := strings.Index(raw, "://"); i >= 0 {
		rest := raw[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			return rest[j:]
		}
		return "/"
	}
	if !strings.HasPrefix(raw, "/") {
		return "/" + raw
	}
	return raw
}
