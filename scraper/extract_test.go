package scraper

import (
	"math"
	"testing"
)

func TestExtractOfferID(t *testing.T) {
	tests := []struct {
		name string
		href string
		want string
	}{
		{
			name: "valid offer link",
			href: "https://funpay.com/en/lots/offer?id=33457523",
			want: "33457523",
		},
		{
			name: "id among other params",
			href: "https://funpay.com/en/lots/offer?foo=bar&id=123",
			want: "123",
		},
		{
			name: "missing id param",
			href: "https://funpay.com/en/lots/offer?foo=bar",
			want: "",
		},
		{
			name: "non-numeric id",
			href: "https://funpay.com/en/lots/offer?id=abc123",
			want: "",
		},
		{
			name: "empty href",
			href: "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractOfferID(tt.href); got != tt.want {
				t.Errorf("ExtractOfferID(%q) = %q, want %q", tt.href, got, tt.want)
			}
		})
	}
}

func TestExtractPrice(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64 // NaN means expect nil
	}{
		{name: "plain dollars", text: "$123.45", want: 123.45},
		{name: "thousands separator", text: "$1,234.50", want: 1234.50},
		{name: "euro symbol", text: "€99", want: 99},
		{name: "rouble with spaces", text: "1 200 ₽", want: 1200},
		{name: "integer", text: "500", want: 500},
		{name: "no numeric token", text: "N/A", want: math.NaN()},
		{name: "empty", text: "", want: math.NaN()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractPrice(tt.text)
			if math.IsNaN(tt.want) {
				if got != nil {
					t.Errorf("ExtractPrice(%q) = %v, want nil", tt.text, *got)
				}
				return
			}
			if got == nil {
				t.Fatalf("ExtractPrice(%q) = nil, want %v", tt.text, tt.want)
			}
			if *got != tt.want {
				t.Errorf("ExtractPrice(%q) = %v, want %v", tt.text, *got, tt.want)
			}
		})
	}
}

func TestExtractSP(t *testing.T) {
	tests := []struct {
		name          string
		desc          string
		want          float64 // NaN means expect nil
		wantCorrected bool
	}{
		{
			name: "suffix at end",
			desc: "Great account, max skills 21.5 m sp",
			want: 21.5,
		},
		{
			name: "no space variants",
			desc: "pilot 30M SP",
			want: 30,
		},
		{
			name: "comma in number",
			desc: "account with 1,5 characters 12 m sp",
			want: 12,
		},
		{
			name:          "raw skill points corrected to millions",
			desc:          "endgame account 45000000 m sp",
			want:          45,
			wantCorrected: true,
		},
		{
			name: "pattern not at end",
			desc: "10 m sp account with many ships",
			want: math.NaN(),
		},
		{
			name: "no pattern",
			desc: "nice account cheap",
			want: math.NaN(),
		},
		{
			name: "empty description",
			desc: "",
			want: math.NaN(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, corrected := ExtractSP(tt.desc)
			if math.IsNaN(tt.want) {
				if got != nil {
					t.Errorf("ExtractSP(%q) = %v, want nil", tt.desc, *got)
				}
				return
			}
			if got == nil {
				t.Fatalf("ExtractSP(%q) = nil, want %v", tt.desc, tt.want)
			}
			if *got != tt.want {
				t.Errorf("ExtractSP(%q) = %v, want %v", tt.desc, *got, tt.want)
			}
			if corrected != tt.wantCorrected {
				t.Errorf("ExtractSP(%q) corrected = %v, want %v", tt.desc, corrected, tt.wantCorrected)
			}
		})
	}
}
