package textvec

import (
	"math"
	"strings"
	"testing"
)

func TestTokenizeSplitsPathsAndCamelCase(t *testing.T) {
	got := Tokenize("GET /api/v1/userProfile-settings.json for the_admin")
	want := []string{"get", "api", "v1", "user", "profile", "settings", "json", "admin"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("Tokenize = %v, want %v", got, want)
	}
}

func TestTokenizeDropsShortAndStopWords(t *testing.T) {
	got := Tokenize("a b is the x list")
	if len(got) != 1 || got[0] != "list" {
		t.Errorf("Tokenize = %v, want [list]", got)
	}
}

func TestTokenizeKeepsNonLatinRuns(t *testing.T) {
	got := Tokenize("用户管理 API")
	if len(got) != 2 || got[0] != "用户管理" || got[1] != "api" {
		t.Errorf("Tokenize = %v, want [用户管理 api]", got)
	}
}

func TestTermFrequencyBoostsKeywords(t *testing.T) {
	v := TermFrequency("get users get orders")
	if v["get"] != 2*KeywordBoost {
		t.Errorf("v[get] = %v, want %v", v["get"], 2*KeywordBoost)
	}
	if v["users"] != 1 {
		t.Errorf("v[users] = %v, want 1", v["users"])
	}
}

func TestCosine(t *testing.T) {
	a := TermFrequency("list users endpoint")
	if got := Cosine(a, a); math.Abs(got-1) > 1e-9 {
		t.Errorf("Cosine(a, a) = %v, want 1", got)
	}
	if got := Cosine(a, TermFrequency("orders invoices")); got != 0 {
		t.Errorf("Cosine(disjoint) = %v, want 0", got)
	}
	if got := Cosine(a, Vector{}); got != 0 {
		t.Errorf("Cosine(empty) = %v, want 0", got)
	}
	partial := Cosine(TermFrequency("GET /api/users"), TermFrequency("GET /api/users List users"))
	if partial <= 0.1 || partial >= 1 {
		t.Errorf("Cosine(partial) = %v, want in (0.1, 1)", partial)
	}
}

func TestCosineWithNormsTrustsGivenNorms(t *testing.T) {
	a := TermFrequency("list users endpoint")
	b := TermFrequency("users endpoint")
	want := Cosine(a, b)
	if got := CosineWithNorms(a, a.Norm(), b, b.Norm()); math.Abs(got-want) > 1e-12 {
		t.Errorf("CosineWithNorms = %v, want %v", got, want)
	}
	if got := CosineWithNorms(a, a.Norm(), b, 2*b.Norm()); math.Abs(got-want/2) > 1e-12 {
		t.Errorf("CosineWithNorms with doubled norm = %v, want %v", got, want/2)
	}
	if got := CosineWithNorms(a, a.Norm(), b, 0); got != 0 {
		t.Errorf("CosineWithNorms with zero norm = %v, want 0", got)
	}
}

func TestPlainText(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"  plain   text\n here ", "plain text here"},
		{"<p>Returns <b>all</b> users</p><p>paged</p>", "Returns all users paged"},
		{"<div>safe</div><script>alert(1)</script>", "safe"},
		{"Fish &amp; chips", "Fish & chips"},
	}
	for _, c := range cases {
		if got := PlainText(c.in); got != c.want {
			t.Errorf("PlainText(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
