package match

import (
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"

	"geohint/internal/geo"
	"geohint/internal/index"
	"geohint/internal/model"
	"geohint/internal/rules"
)

func testLogger() log.Interface {
	return &log.Logger{Handler: discard.New(), Level: log.ErrorLevel}
}

func testIndex(t *testing.T) *index.Index {
	t.Helper()
	return index.Build([]*model.Location{
		{
			ID:    1,
			Coord: geo.Coordinate{Lat: 48.1374, Lon: 11.5755},
			City:  "Munich",
			IATA:  []string{"MUC"},
		},
		{
			ID:    2,
			Coord: geo.Coordinate{Lat: 32.7767, Lon: -96.797},
			City:  "Dallas",
			IATA:  []string{"DFW"},
		},
		{
			// Trap: "com" is a valid airport code somewhere; the TLD must
			// never produce it.
			ID:    3,
			Coord: geo.Coordinate{Lat: 0, Lon: 0},
			IATA:  []string{"COM"},
		},
	})
}

func testRules(t *testing.T) *rules.Set {
	t.Helper()
	set := &rules.Set{}
	for _, spec := range []struct {
		template string
		codeType model.CodeType
	}{
		{`^{}\d+$`, model.CodeIATA},
		{`^{}-rtr$`, model.CodeGeonames},
		{`^{}$`, model.CodeIATA},
	} {
		rule, err := rules.NewRule(spec.template, spec.codeType)
		if err != nil {
			t.Fatalf("NewRule(%q): %v", spec.template, err)
		}
		set.Add(rule)
	}
	return set
}

func TestMatch(t *testing.T) {
	m := New(testRules(t), testIndex(t), testLogger())

	t.Run("host label hit", func(t *testing.T) {
		d := model.NewDomain("muc01.example.net", "", "")
		if n := m.Match(d); n != 1 {
			t.Fatalf("Match = %d, want 1", n)
		}
		got := d.AllMatches()[0]
		if got.LocationID != 1 || got.Type != model.CodeIATA || got.Code != "muc" {
			t.Errorf("match = %+v, want location 1 via iata muc", got)
		}
	})

	t.Run("tld never scanned", func(t *testing.T) {
		d := model.NewDomain("foo.example.com", "", "")
		if n := m.Match(d); n != 0 {
			t.Fatalf("Match = %d, want 0; matches=%v", n, d.AllMatches())
		}
		if len(d.Labels[0].Matches) != 0 {
			t.Error("TLD label was annotated")
		}
	})

	t.Run("specific label outranks shared label", func(t *testing.T) {
		d := model.NewDomain("dfw1.munich-rtr.example.net", "", "")
		if n := m.Match(d); n != 2 {
			t.Fatalf("Match = %d, want 2", n)
		}
		matches := d.AllMatches()
		if matches[0].LocationID != 2 {
			t.Errorf("first match from host label = location %d, want 2", matches[0].LocationID)
		}
		if matches[1].LocationID != 1 {
			t.Errorf("second match = location %d, want 1", matches[1].LocationID)
		}
	})

	t.Run("duplicate locations collapse", func(t *testing.T) {
		// "muc01" (iata rule) and "munich-rtr" (geonames rule) both resolve
		// to location 1; only the more specific hit survives.
		d := model.NewDomain("muc01.munich-rtr.example.net", "", "")
		if n := m.Match(d); n != 1 {
			t.Fatalf("Match = %d, want 1", n)
		}
		got := d.AllMatches()[0]
		if got.Type != model.CodeIATA {
			t.Errorf("kept match type = %v, want iata from host label", got.Type)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		d := model.NewDomain("muc01.example.net", "", "")
		first := m.Match(d)
		second := m.Match(d)
		if first != second {
			t.Errorf("match counts diverge: %d then %d", first, second)
		}
	})

	t.Run("no hint", func(t *testing.T) {
		d := model.NewDomain("gateway.example.net", "", "")
		if n := m.Match(d); n != 0 {
			t.Errorf("Match = %d, want 0", n)
		}
	})
}

func TestMatchSkipsHexEncodedNames(t *testing.T) {
	m := New(testRules(t), testIndex(t), testLogger())
	m.SkipHexEncoded = true

	// Name embeds 192.0.2.1 as c0000201 and would otherwise hit the
	// bare-iata rule on "dfw".
	d := model.NewDomain("dfw.c0000201.example.net", "192.0.2.1", "")
	if n := m.Match(d); n != 0 {
		t.Errorf("Match = %d, want 0 for hex-encoded name", n)
	}

	m.SkipHexEncoded = false
	if n := m.Match(d); n == 0 {
		t.Error("Match = 0 with guard disabled, want hits")
	}
}
