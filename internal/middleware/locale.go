package middleware

import (
	"context"
	"net/http"

	"golang.org/x/text/language"
)

type localeContextKey struct{}

// LocaleKey stores the negotiated UI locale in the request context.
var LocaleKey = localeContextKey{}

var localeMatcher = language.NewMatcher([]language.Tag{
	language.English,
	language.Indonesian,
})

// Locale negotiates the response language from the X-Locale header or the
// standard Accept-Language header, falling back to English.
func Locale(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale := detectLocale(r)
		ctx := context.WithValue(r.Context(), LocaleKey, locale)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func detectLocale(r *http.Request) string {
	header := r.Header.Get("X-Locale")
	if header == "" {
		header = r.Header.Get("Accept-Language")
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return "en"
	}
	_, idx, _ := localeMatcher.Match(tags...)
	if idx == 1 {
		return "id"
	}
	return "en"
}

// LocaleFromContext returns the negotiated locale, defaulting to English.
func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok && v != "" {
		return v
	}
	return "en"
}
