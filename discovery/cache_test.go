package discovery

import "testing"

func TestCacheSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(dir)

	want := Manifest{Lines: []LineSpec{
		{Index: 0, Label: "console", Enabled: true},
		{Index: 1, Label: "aux1", Enabled: false},
	}}
	c.Save(want)

	got, ok := c.Load()
	if !ok {
		t.Fatalf("Load: expected cache hit after Save")
	}
	if len(got.Lines) != len(want.Lines) || got.Lines[0].Label != "console" {
		t.Fatalf("Load = %+v, want %+v", got, want)
	}
}

func TestCacheLoadMissingIsNotOk(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(dir)

	if _, ok := c.Load(); ok {
		t.Fatalf("Load: expected cache miss for nonexistent file")
	}
}
