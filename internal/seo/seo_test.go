package seo

import (
	"encoding/json"
	"testing"
)

func TestAlternatesIncludeDefault(t *testing.T) {
	got := Alternates("", []string{"en", "es"}, "en")
	if len(got) != 3 {
		t.Fatalf("expected 3 alternates, got %d", len(got))
	}
	if got[1].Lang != "es" || got[1].Href != "/?hl=es" {
		t.Fatalf("unexpected alternate %#v", got[1])
	}
	if got[2].Lang != "x-default" || got[2].Href != "/?hl=en" {
		t.Fatalf("unexpected default %#v", got[2])
	}
}

func TestLocalBusinessSchema(t *testing.T) {
	raw := JSON(LocalBusiness{
		Name:       "Lennox Local Ads Flyer",
		Telephone:  "(562) 282-9498",
		AreaServed: []string{"Lennox, CA 90304"},
	}.Schema())

	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["@type"] != "LocalBusiness" || decoded["telephone"] != "(562) 282-9498" {
		t.Fatalf("unexpected schema %#v", decoded)
	}
	if _, ok := decoded["email"]; ok {
		t.Fatalf("expected empty email to be omitted")
	}
	areas, ok := decoded["areaServed"].([]any)
	if !ok || len(areas) != 1 {
		t.Fatalf("unexpected areas %#v", decoded["areaServed"])
	}
}
