package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPage(t *testing.T) {
	tests := []struct {
		query   string
		page    int
		perPage int
		fail    bool
	}{
		{query: "", page: 0, perPage: 20},
		{query: "page=2&perPage=50", page: 2, perPage: 50},
		{query: "perPage=500", page: 0, perPage: 20},
		{query: "page=-1", fail: true},
		{query: "perPage=0", fail: true},
		{query: "page=two", fail: true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/carts?"+tt.query, nil)

			page, perPage, err := Page(r, 20, 100)
			if tt.fail {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if page != tt.page || perPage != tt.perPage {
				t.Fatalf("expected page %d/%d, got %d/%d", tt.page, tt.perPage, page, perPage)
			}
		})
	}
}

func TestRespondIsNotCached(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusNoContent} {
		w := httptest.NewRecorder()
		if err := Respond(context.Background(), w, map[string]int{"count": 1}, status); err != nil {
			t.Fatal(err)
		}
		if w.Code != status || w.Header().Get("Cache-Control") != "no-store" {
			t.Fatalf("unexpected response %d %v", w.Code, w.Header())
		}
	}
}
