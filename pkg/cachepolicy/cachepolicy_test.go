package cachepolicy

import (
	"net/http"
	"testing"
	"time"
)

func TestEvaluateMaxAgeOverridesExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)
	respTime := now.Add(-30 * time.Second)

	resp := http.Header{}
	resp.Set("Date", respTime.Format(http.TimeFormat))
	resp.Set("Expires", respTime.Add(-time.Hour).Format(http.TimeFormat)) // already expired
	resp.Set("Cache-Control", "max-age=60")                              // but max-age says fresh for 60s

	got := Evaluate(http.Header{}, resp, respTime, now)
	if got != Fresh {
		t.Fatalf("expected Fresh (max-age overrides Expires), got %v", got)
	}
}

func TestEvaluateRequestNoCacheIsTransparent(t *testing.T) {
	now := time.Now()
	req := http.Header{"Cache-Control": {"no-cache"}}
	resp := http.Header{"Cache-Control": {"max-age=600"}}
	resp.Set("Date", now.Format(http.TimeFormat))

	if got := Evaluate(req, resp, now, now); got != Transparent {
		t.Fatalf("expected Transparent, got %v", got)
	}
}

func TestEvaluateMaxStaleWithNoValueIsAlwaysFresh(t *testing.T) {
	now := time.Now()
	req := http.Header{"Cache-Control": {"max-stale"}}
	resp := http.Header{"Cache-Control": {"max-age=1"}}
	resp.Set("Date", now.Add(-time.Hour).Format(http.TimeFormat))

	if got := Evaluate(req, resp, now.Add(-time.Hour), now); got != Fresh {
		t.Fatalf("expected Fresh under bare max-stale, got %v", got)
	}
}

func TestEvaluateImmutableShortCircuitsStaleness(t *testing.T) {
	now := time.Now()
	resp := http.Header{"Cache-Control": {"immutable"}}
	resp.Set("Date", now.Add(-24*time.Hour).Format(http.TimeFormat))

	if got := Evaluate(http.Header{}, resp, now.Add(-24*time.Hour), now); got != Fresh {
		t.Fatalf("expected immutable response to stay Fresh, got %v", got)
	}
}

func TestEvaluateHeuristicFromLastModified(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	lastModified := now.Add(-100 * time.Hour)
	resp := http.Header{}
	resp.Set("Date", now.Add(-time.Hour).Format(http.TimeFormat)) // 1h old: within 10% of 100h (10h)
	resp.Set("Last-Modified", lastModified.Format(http.TimeFormat))

	if got := Evaluate(http.Header{}, resp, now.Add(-time.Hour), now); got != Fresh {
		t.Fatalf("expected heuristic lifetime to keep the response fresh, got %v", got)
	}
}

func TestEvaluateOnlyIfCachedNoLongerLaundersStaleness(t *testing.T) {
	now := time.Now()
	req := http.Header{"Cache-Control": {"only-if-cached"}}
	resp := http.Header{"Cache-Control": {"max-age=1"}}
	resp.Set("Date", now.Add(-time.Hour).Format(http.TimeFormat))

	if got := Evaluate(req, resp, now.Add(-time.Hour), now); got != Stale {
		t.Fatalf("expected only-if-cached to leave an actually-stale entry Stale, got %v", got)
	}
}

func TestCanStoreRejectsNoStoreAndVaryStar(t *testing.T) {
	resp := http.Header{"Cache-Control": {"no-store"}}
	if CanStore(http.StatusOK, http.Header{}, resp) {
		t.Fatal("expected no-store response to be rejected")
	}

	resp2 := http.Header{"Vary": {"*"}}
	if CanStore(http.StatusOK, http.Header{}, resp2) {
		t.Fatal("expected Vary: * response to be rejected")
	}

	if !CanStore(http.StatusOK, http.Header{}, http.Header{}) {
		t.Fatal("expected a plain 200 to be storable")
	}
}

func TestVariedHeaderNamesCanonicalizes(t *testing.T) {
	resp := http.Header{"Vary": {"accept-encoding, x-api-version"}}
	got := VariedHeaderNames(resp)
	if len(got) != 2 || got[0] != "Accept-Encoding" || got[1] != "X-Api-Version" {
		t.Fatalf("unexpected varied header names: %v", got)
	}
}
