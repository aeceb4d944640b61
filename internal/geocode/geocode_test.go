package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if q := r.URL.Query().Get("q"); q != "Albuquerque, NM" {
			t.Errorf("q = %q", q)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"lat": "35.0844", "lon": "-106.6504", "display_name": "Albuquerque, Bernalillo County, New Mexico"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	got, err := c.Geocode(context.Background(), "Albuquerque, NM")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if got.Latitude != 35.0844 || got.Longitude != -106.6504 {
		t.Fatalf("coords = (%v, %v)", got.Latitude, got.Longitude)
	}
	if got.FormattedAddress == "" {
		t.Fatal("expected formatted address")
	}
}

func TestGeocodeNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Geocode(context.Background(), "nowhere"); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch", err)
	}
}

func TestGeocodeEmptyAddress(t *testing.T) {
	c := NewClient("http://unused.invalid")
	if _, err := c.Geocode(context.Background(), "  "); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch", err)
	}
}

func TestGeocodeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Geocode(context.Background(), "anywhere"); err == nil {
		t.Fatal("expected error on 502")
	}
}
