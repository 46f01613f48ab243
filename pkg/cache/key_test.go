package cache

import (
	"net/url"
	"testing"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "path only",
			key:  Key{Path: "/v2/organizations/"},
			want: "console:http:v2/organizations",
		},
		{
			name: "scoped to endpoint",
			key:  Key{Endpoint: "cf-1", Path: "/v2/apps/abc"},
			want: "console:http:cf-1:v2/apps/abc",
		},
		{
			name: "query params sorted by name",
			key: Key{
				Endpoint: "cf-1",
				Path:     "/v2/apps",
				Query: url.Values{
					"results-per-page": []string{"20"},
					"page":             []string{"2"},
					"q":                []string{"name:web"},
				},
			},
			want: "console:http:cf-1:v2/apps:page=2:q=name:web:results-per-page=20",
		},
		{
			name: "repeated values sorted",
			key: Key{
				Path:  "/v2/spaces",
				Query: url.Values{"q": []string{"name:b", "name:a"}},
			},
			want: "console:http:v2/spaces:q=name:a,name:b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKey_Deterministic(t *testing.T) {
	a := Key{Path: "/v2/apps", Query: url.Values{"a": {"1"}, "b": {"2"}, "c": {"3"}}}
	b := Key{Path: "/v2/apps", Query: url.Values{"c": {"3"}, "a": {"1"}, "b": {"2"}}}

	for i := 0; i < 10; i++ {
		if a.String() != b.String() {
			t.Fatalf("keys differ: %q vs %q", a.String(), b.String())
		}
	}
}

func TestKey_PathPrefix(t *testing.T) {
	k := Key{Endpoint: "cf-1", Path: "/v2/apps/", Query: url.Values{"page": {"1"}}}
	if got, want := k.PathPrefix(), "console:http:cf-1:v2/apps"; got != want {
		t.Errorf("PathPrefix() = %q, want %q", got, want)
	}
}

func TestKeyFor(t *testing.T) {
	u, err := url.Parse("https://api.example.com/v2/apps?page=1&results-per-page=50")
	if err != nil {
		t.Fatal(err)
	}

	k := KeyFor("cf-1", u)
	if k.Path != "/v2/apps" {
		t.Errorf("Path = %q", k.Path)
	}
	if got, want := k.String(), "console:http:cf-1:v2/apps:page=1:results-per-page=50"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
