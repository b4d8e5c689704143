package ingestion

import "testing"

func TestInferLanguage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
		want string
	}{
		// ── Path segments ───────────────────────────────────────────────
		{
			name: "arabic path segment",
			url:  "https://www.example.ps/ar/about-us",
			want: "ar",
		},
		{
			name: "english path segment",
			url:  "https://www.example.ps/en/services/loans",
			want: "en",
		},
		{
			name: "regional arabic tag",
			url:  "https://www.example.ps/ar-PS/branches",
			want: "ar",
		},
		{
			name: "nested segment",
			url:  "https://www.example.ps/site/ar/news/2024",
			want: "ar",
		},
		// ── Query parameters ────────────────────────────────────────────
		{
			name: "lang query parameter",
			url:  "https://portal.example.ps/page.aspx?id=4&lang=en",
			want: "en",
		},
		{
			name: "hl query parameter",
			url:  "https://portal.example.ps/page?hl=AR",
			want: "ar",
		},
		// ── Subdomain ───────────────────────────────────────────────────
		{
			name: "arabic subdomain",
			url:  "https://ar.example.ps/contact",
			want: "ar",
		},
		// ── Unknown ─────────────────────────────────────────────────────
		{
			name: "no marker",
			url:  "https://www.example.ps/about-us",
			want: "",
		},
		{
			name: "segment that merely contains a code",
			url:  "https://www.example.ps/careers/arabic-speakers",
			want: "",
		},
		{
			name: "unparseable url",
			url:  "://bad url",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := InferLanguage(tt.url); got != tt.want {
				t.Errorf("InferLanguage(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestTrimSegments(t *testing.T) {
	t.Parallel()

	got := trimSegments("/ar//about/")
	if len(got) != 2 || got[0] != "ar" || got[1] != "about" {
		t.Errorf("trimSegments: got %v", got)
	}
}

func TestCanonicalLanguage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"ar", "ar"},
		{" AR ", "ar"},
		{"ar-PS", "ar"},
		{"ar_SA", "ar"},
		{"ar-EG", "ar"},
		{"en-GB", "en"},
		{"de", "de"},
		{"de-AT", "de-at"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := CanonicalLanguage(tc.in); got != tc.want {
			t.Errorf("CanonicalLanguage(%q): got %q, want %q", tc.in, got, tc.want)
		}
	}
}
