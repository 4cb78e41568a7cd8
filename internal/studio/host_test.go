package studio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestUnavailable(t *testing.T) {
	h := New("")

	if _, err := h.HasSelectedKey(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("HasSelectedKey err = %v, want ErrUnavailable", err)
	}
	if err := h.OpenSelectKey(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("OpenSelectKey err = %v, want ErrUnavailable", err)
	}
}

func TestHTTPHost_HasSelectedKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/keys/selected" {
			t.Errorf("path = %q, want /keys/selected", r.URL.Path)
		}
		fmt.Fprint(w, `{"selected":true}`)
	}))
	defer srv.Close()

	h := New(srv.URL)
	selected, err := h.HasSelectedKey(context.Background())
	if err != nil {
		t.Fatalf("HasSelectedKey: %v", err)
	}
	if !selected {
		t.Error("selected = false, want true")
	}
}

func TestHTTPHost_OpenSelectKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/keys/select" {
			t.Errorf("got %s %s, want POST /keys/select", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h := New(srv.URL)
	if err := h.OpenSelectKey(context.Background()); err != nil {
		t.Fatalf("OpenSelectKey: %v", err)
	}
}

func TestHTTPHost_UnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	h := New(srv.URL)
	if _, err := h.HasSelectedKey(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
