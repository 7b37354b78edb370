package i18n

import (
	"context"
	"net/http"
)

// Middleware resolves the locale for each request and injects a
// localizer into its context. preferred, when non-nil, supplies the
// stored language preference; it outranks the request's
// Accept-Language header. defaultLang is tried last.
func Middleware(defaultLang string, preferred func(ctx context.Context) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			langs := make([]string, 0, 3)
			if preferred != nil {
				if lang := preferred(r.Context()); lang != "" {
					langs = append(langs, lang)
				}
			}
			if accept := r.Header.Get("Accept-Language"); accept != "" {
				langs = append(langs, accept)
			}
			langs = append(langs, defaultLang)

			ctx := WithLocalizer(r.Context(), NewLocalizer(langs...))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
