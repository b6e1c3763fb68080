package canon

import "testing"

func TestNormalizeStripsWwwAndIgnoredParams(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "www prefix dropped",
			in:   "https://www.tiktok.com/@a/video/1",
			want: "tiktok.com/@a/video/1",
		},
		{
			name: "trailing slash stripped",
			in:   "https://tiktok.com/@a/video/1/",
			want: "tiktok.com/@a/video/1",
		},
		{
			name: "ignored query params dropped entirely",
			in:   "https://tiktok.com/@a/video/1?utm_source=test&ref=abc",
			want: "tiktok.com/@a/video/1",
		},
		{
			name: "non-ignored query params kept and sorted",
			in:   "https://tiktok.com/@a/video/1?b=2&a=1",
			want: "tiktok.com/@a/video/1?a=1&b=2",
		},
		{
			name: "scheme missing treated as host+path",
			in:   "tiktok.com/@a/video/1",
			want: "tiktok.com/@a/video/1",
		},
		{
			name: "non-url input falls back to strip+lower",
			in:   "  NOT A URL  ",
			want: "not a url",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Normalize(tc.in)
			if got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestFingerprintIsStableAcrossEquivalentURLs(t *testing.T) {
	a := Fingerprint("https://www.tiktok.com/@a/video/1", "")
	b := Fingerprint("https://tiktok.com/@a/video/1?utm_source=test", "")
	if a != b {
		t.Errorf("fingerprints differ for equivalent URLs: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("fingerprint length = %d, want 16", len(a))
	}
}

func TestFingerprintIsSaltedByLocale(t *testing.T) {
	base := "https://tiktok.com/@a/video/1"
	noLocale := Fingerprint(base, "")
	esLocale := Fingerprint(base, "es")
	if noLocale == esLocale {
		t.Errorf("fingerprint did not change with locale salt")
	}

	mixedCase := Fingerprint(base, " ES ")
	if mixedCase != esLocale {
		t.Errorf("locale normalization failed: %q != %q", mixedCase, esLocale)
	}
}

func TestFingerprintMatchesNormalizeComposition(t *testing.T) {
	u := "https://www.tiktok.com/@a/video/1?utm_source=x"
	loc := "En"
	direct := Fingerprint(u, loc)
	composed := Fingerprint(Normalize(u), loc)
	if direct != composed {
		t.Errorf("Fingerprint(Normalize(u)) != Fingerprint(u): %q vs %q", composed, direct)
	}
}

func TestDetectPlatform(t *testing.T) {
	cases := []struct {
		in   string
		want Platform
	}{
		{"https://www.tiktok.com/@a/video/1", PlatformTikTok},
		{"https://vm.tiktok.com/abc123/", PlatformTikTok},
		{"https://www.instagram.com/reel/abc/", PlatformInstagram},
		{"instagr.am/p/xyz", PlatformInstagram},
		{"https://example.com/foo", PlatformUnknown},
		{"", PlatformUnknown},
	}
	for _, tc := range cases {
		if got := DetectPlatform(tc.in); got != tc.want {
			t.Errorf("DetectPlatform(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
