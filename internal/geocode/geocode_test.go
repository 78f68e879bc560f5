package geocode

import "testing"

func TestBuildLabel(t *testing.T) {
	tests := []struct {
		name    string
		addr    Address
		display string
		want    string
	}{
		{"suburb and city", Address{Suburb: "Westminster", City: "London"}, "", "Westminster, London"},
		{"town only", Address{Town: "Ely", Road: "Ely"}, "", "Ely"},
		{"road in village", Address{Road: "Mill Lane", Village: "Grantchester"}, "", "Mill Lane, Grantchester"},
		{"state fallback", Address{State: "Wales"}, "Somewhere, Wales", "Wales"},
		{"display fallback", Address{}, " Open sea ", "Open sea"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := BuildLabel(tc.addr, tc.display); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestCacheKeyRoundsNearbyPoints(t *testing.T) {
	if CacheKey(51.50071, -0.12461) != CacheKey(51.50072, -0.12459) {
		t.Fatalf("expected nearby points to share a cache key")
	}
	if CacheKey(51.5007, -0.1246) == CacheKey(51.5017, -0.1246) {
		t.Fatalf("expected distinct keys for points 100m apart")
	}
}
