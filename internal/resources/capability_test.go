package resources

import (
	"slices"
	"testing"
)

var (
	fileUploader   = NewCapability("file_uploader", Quantities{CPU: 1, Conn: 400, Mem: 1000})
	bigfile        = NewCapability("bigfile_handling", Quantities{Conn: 100, Mem: 1000})
	fileDownloader = NewCapability("file_downloader", Quantities{CPU: 1, Conn: 500, Mem: 750})
)

func TestCapabilitySetOrderIndependent(t *testing.T) {
	a := NewCapabilitySet(fileUploader, bigfile, fileDownloader)
	b := NewCapabilitySet(fileDownloader, bigfile, fileUploader)

	if !a.Equal(b) {
		t.Fatalf("sets differ: %s vs %s", a.Key(), b.Key())
	}
	if a.Key() != b.Key() {
		t.Errorf("key: got %q, want %q", b.Key(), a.Key())
	}
	if a.String() != "{bigfile_handling, file_downloader, file_uploader}" {
		t.Errorf("string: got %q", a.String())
	}
}

func TestCapabilitySetDedup(t *testing.T) {
	s := NewCapabilitySet(fileUploader, fileUploader, bigfile)
	if s.Len() != 2 {
		t.Errorf("len: got %d, want 2", s.Len())
	}
	if !s.Contains(bigfile) {
		t.Error("expected set to contain bigfile_handling")
	}
	if s.Contains(fileDownloader) {
		t.Error("did not expect set to contain file_downloader")
	}
}

func TestCapabilitySetSubsetIsDistinct(t *testing.T) {
	full := NewCapabilitySet(fileUploader, bigfile)
	sub := NewCapabilitySet(fileUploader)
	if full.Equal(sub) {
		t.Fatal("subset must not equal superset")
	}
}

func TestCapabilityIdentityIncludesName(t *testing.T) {
	twin := NewCapability("other", fileUploader.Requirements)
	s := NewCapabilitySet(fileUploader, twin)
	if s.Len() != 2 {
		t.Errorf("len: got %d, want 2 (same requirements, different names)", s.Len())
	}
	if s.Equal(NewCapabilitySet(fileUploader)) {
		t.Error("expected distinct sets")
	}
}

func TestCapabilitySetKeyResistsCraftedNames(t *testing.T) {
	pair := NewCapabilitySet(
		NewCapability("x", Quantities{CPU: 1}),
		NewCapability("y", Quantities{}),
	)
	tests := []Capability{
		NewCapability("x{cpu=1}|y", Quantities{}),
		NewCapability(`x" "cpu"=1|"y`, Quantities{}),
		NewCapability("x", Quantities{Kind(`cpu"=1|"y`): 0}),
	}
	for _, c := range tests {
		single := NewCapabilitySet(c)
		if single.Equal(pair) {
			t.Errorf("set of %q collides with %s (key %q)", c.Name, pair, pair.Key())
		}
	}
}

func TestCapabilitySetRequirements(t *testing.T) {
	got := NewCapabilitySet(fileUploader, bigfile).Requirements()
	want := Quantities{CPU: 1, Conn: 500, Mem: 2000}
	for _, k := range []Kind{CPU, Conn, Mem} {
		if got[k] != want[k] {
			t.Errorf("%s: got %d, want %d", k, got[k], want[k])
		}
	}
}

func TestCapabilityCopiesRequirements(t *testing.T) {
	reqs := Quantities{CPU: 1}
	c := NewCapability("c", reqs)
	reqs[CPU] = 99
	if c.Requirements[CPU] != 1 {
		t.Errorf("requirement mutated through caller map: got %d", c.Requirements[CPU])
	}
}

func TestCapabilityValidate(t *testing.T) {
	tests := []struct {
		name    string
		c       Capability
		wantErr bool
	}{
		{"valid", fileUploader, false},
		{"empty name", NewCapability(" ", Quantities{CPU: 1}), true},
		{"negative", NewCapability("neg", Quantities{Mem: -1}), true},
		{"zero demand", NewCapability("free", nil), false},
	}
	for _, tt := range tests {
		err := tt.c.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: got err %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestEmptySet(t *testing.T) {
	s := NewCapabilitySet()
	if !s.IsEmpty() {
		t.Error("expected empty set")
	}
	if s.String() != "{}" {
		t.Errorf("string: got %q, want {}", s.String())
	}
	if !s.Requirements().IsZero() {
		t.Error("empty set should demand nothing")
	}
}

func TestCapabilitySetJSON(t *testing.T) {
	data, err := NewCapabilitySet(fileUploader, bigfile).MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `["bigfile_handling","file_uploader"]` {
		t.Errorf("json: got %s", data)
	}
	if names := NewCapabilitySet(bigfile).Names(); !slices.Equal(names, []string{"bigfile_handling"}) {
		t.Errorf("names: got %v", names)
	}
}
