package i18n

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "AppTitle"); got != "MindCheck" {
		t.Errorf("T(AppTitle) = %q, want 'MindCheck'", got)
	}
	got := T(ctx, "ErrRateLimited")
	if got != "The assistant is busy right now. Please wait a minute and try again." {
		t.Errorf("T(ErrRateLimited) = %q", got)
	}
}

func TestTranslateHindi(t *testing.T) {
	ctx := initLang(t, "hi")

	if got := T(ctx, "AppTitle"); got != "माइंडचेक" {
		t.Errorf("T(AppTitle) = %q, want 'माइंडचेक'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "ReportsCount", 1); got != "1 checkup report" {
		t.Errorf("Tp(ReportsCount, 1) = %q", got)
	}
	if got := Tp(ctx, "ReportsCount", 5); got != "5 checkup reports" {
		t.Errorf("Tp(ReportsCount, 5) = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "QuestionProgress", map[string]any{"Number": 3, "Total": 10})
	if got != "Question 3 of 10" {
		t.Errorf("Td(QuestionProgress) = %q, want 'Question 3 of 10'", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestLocalesHaveSameKeys(t *testing.T) {
	keys := func(name string) []string {
		data, err := localeFS.ReadFile("locales/" + name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		return slices.Sorted(maps.Keys(m))
	}
	en, hi := keys("en.json"), keys("hi.json")
	if !slices.Equal(en, hi) {
		t.Errorf("locale keys differ:\nen: %v\nhi: %v", en, hi)
	}
}

func TestMatch(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	tests := []struct {
		name  string
		prefs []string
		want  string
	}{
		{"explicit hindi", []string{"hi"}, "hi"},
		{"accept language", []string{"hi-IN,hi;q=0.9,en;q=0.8"}, "hi"},
		{"unsupported falls back", []string{"fr-FR"}, "en"},
		{"nothing", []string{""}, "en"},
		{"first preference wins", []string{"en", "hi"}, "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match(tt.prefs...); got != tt.want {
				t.Errorf("Match(%v) = %q, want %q", tt.prefs, got, tt.want)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	h := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(T(r.Context(), "AppTitle")))
	}))

	tests := []struct {
		name   string
		target string
		cookie string
		accept string
		want   string
	}{
		{"default", "/", "", "", "MindCheck"},
		{"header", "/", "", "hi", "माइंडचेक"},
		{"cookie beats header", "/", "en", "hi", "MindCheck"},
		{"query beats cookie", "/?lang=hi", "en", "", "माइंडचेक"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: LangCookie, Value: tt.cookie})
			}
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if got := rec.Body.String(); got != tt.want {
				t.Errorf("body = %q, want %q", got, tt.want)
			}
		})
	}
}
