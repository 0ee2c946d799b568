package i18n

import "net/http"

// LangCookie holds an explicit language choice.
const LangCookie = "lang"

// Middleware picks the language for each request from the ?lang= parameter,
// the lang cookie, or Accept-Language, in that order, falling back to the
// default language. The localizer is stored in the request context.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var prefs []string
			if q := r.URL.Query().Get("lang"); q != "" {
				prefs = append(prefs, q)
			}
			if c, err := r.Cookie(LangCookie); err == nil && c.Value != "" {
				prefs = append(prefs, c.Value)
			}
			prefs = append(prefs, r.Header.Get("Accept-Language"))

			lang := Match(prefs...)
			w.Header().Set("Content-Language", lang)
			ctx := WithLocalizer(r.Context(), NewLocalizer(lang))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
