package task

import "testing"

func TestDefaultRegistryKeys(t *testing.T) {
	reg := DefaultRegistry()
	want := []string{
		"applycal", "bandpass", "exportproducts", "flagdeterministic",
		"fluxscale", "gaincal", "importdata", "makeimages", "selfcal", "tsyscal",
	}
	specs := reg.List()
	if len(specs) != len(want) {
		t.Fatalf("registry has %d specs, want %d", len(specs), len(want))
	}
	for i, key := range want {
		if specs[i].Key != key {
			t.Fatalf("spec %d: got %s want %s", i, specs[i].Key, key)
		}
	}
	if _, ok := reg.Get("hif_fancy"); ok {
		t.Fatal("unknown key resolved")
	}
}

func TestNewResolverRejectsDuplicates(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic on duplicate keys")
		}
	}()
	NewResolver(Spec{Key: "gaincal"}, Spec{Key: "gaincal"})
}

func TestSanitizeName(t *testing.T) {
	if got := sanitizeName(`NGC 5194 (M51); "whirlpool"`); got != "NGC_5194__M51____whirlpool_" {
		t.Fatalf("sanitized=%q", got)
	}
}
