package pagination

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextFor(target string) echo.Context {
	e := echo.New()
	return e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		target string
		limit  int
		offset int
	}{
		{"/", DefaultLimit, 0},
		{"/?limit=50&offset=10", 50, 10},
		{"/?_count=5&_offset=15", 5, 15},
		{"/?limit=1000", MaxLimit, 0},
		{"/?offset=-3", DefaultLimit, 0},
		{"/?limit=abc", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			p := FromContext(contextFor(tt.target))
			if p.Limit != tt.limit || p.Offset != tt.offset {
				t.Errorf("expected %d/%d, got %d/%d", tt.limit, tt.offset, p.Limit, p.Offset)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a", "b"}, 5, 2, 0)
	if !r.HasMore {
		t.Error("expected has_more on the first page")
	}
	if NewResponse(nil, 5, 2, 4).HasMore {
		t.Error("expected no more results on the last page")
	}
}

func TestParams_Links(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		total  int
		want   map[string]string
	}{
		{"first page", Params{Limit: 10, Offset: 0}, 25, map[string]string{
			"self": "/q?offset=0&limit=10",
			"next": "/q?offset=10&limit=10",
		}},
		{"middle page", Params{Limit: 10, Offset: 10}, 25, map[string]string{
			"self":     "/q?offset=10&limit=10",
			"next":     "/q?offset=20&limit=10",
			"previous": "/q?offset=0&limit=10",
		}},
		{"last page", Params{Limit: 10, Offset: 20}, 25, map[string]string{
			"self":     "/q?offset=20&limit=10",
			"previous": "/q?offset=10&limit=10",
		}},
		{"short offset", Params{Limit: 10, Offset: 5}, 8, map[string]string{
			"self":     "/q?offset=5&limit=10",
			"previous": "/q?offset=0&limit=10",
		}},
		{"no results", Params{Limit: 10}, 0, map[string]string{
			"self": "/q?offset=0&limit=10",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			links := tt.params.Links("/q", tt.total)
			if len(links) != len(tt.want) {
				t.Fatalf("expected %d links, got %+v", len(tt.want), links)
			}
			for _, l := range links {
				if tt.want[l.Relation] != l.URL {
					t.Errorf("%s: expected %q, got %q", l.Relation, tt.want[l.Relation], l.URL)
				}
			}
		})
	}
}

func TestResponse_WithLinksJSON(t *testing.T) {
	r := NewResponse([]int{1}, 3, 1, 1).WithLinks("/api/v1/questionnaires")
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Links []Link `json:"links"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded.Links) != 3 || decoded.Links[1].Relation != "next" {
		t.Errorf("unexpected links %s", data)
	}
}
