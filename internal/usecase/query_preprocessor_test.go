package usecase

import (
	"strings"
	"testing"
)

func TestNewQueryPreprocessor(t *testing.T) {
	t.Run("creates preprocessor with nop logger when nil", func(t *testing.T) {
		p := NewQueryPreprocessor(nil)
		if p.logger == nil {
			t.Error("expected logger to be set")
		}
	})
}

func TestPreprocessQuery(t *testing.T) {
	p := NewQueryPreprocessor(nil)

	testCases := []struct {
		name     string
		itemName string
		want     string
	}{
		{
			name:     "removes size in fl oz",
			itemName: "Coca-Cola, 12 fl oz",
			want:     "coca-cola",
		},
		{
			name:     "removes gallon size",
			itemName: "Whole Milk, 2 gallons",
			want:     "whole milk",
		},
		{
			name:     "removes count notation",
			itemName: "Eggs, 12 count",
			want:     "eggs",
		},
		{
			name:     "removes ct abbreviation",
			itemName: "Granola Bars, 6 ct",
			want:     "granola bars",
		},
		{
			name:     "removes ml measurement",
			itemName: "Yogurt Drink, 500 ml",
			want:     "yogurt drink",
		},
		{
			name:     "handles liter measurement",
			itemName: "Sparkling Water, 2 liters",
			want:     "sparkling water",
		},
		{
			name:     "removes marketing terms",
			itemName: "Premium Select Quality Chicken Breast",
			want:     "chicken breast",
		},
		{
			name:     "removes spoken filler",
			itemName: "please get some bananas",
			want:     "bananas",
		},
		{
			name:     "removes trailing standalone number",
			itemName: "bread - 2",
			want:     "bread",
		},
		{
			name:     "trims surrounding whitespace",
			itemName: "  paper towels  ",
			want:     "paper towels",
		},
		{
			name:     "preserves food descriptors",
			itemName: "Organic Whole Grain Bread",
			want:     "organic whole grain bread",
		},
		{
			name:     "falls back to original when everything is noise",
			itemName: "value",
			want:     "value",
		},
		{
			name:     "handles empty item name",
			itemName: "",
			want:     "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := p.PreprocessQuery(tc.itemName)
			if got != tc.want {
				t.Errorf("PreprocessQuery(%q) = %q, want %q", tc.itemName, got, tc.want)
			}
		})
	}
}

func TestPreprocessQuery_LongInput(t *testing.T) {
	p := NewQueryPreprocessor(nil)

	longName := "Super Deluxe Ultimate Organic Natural Fresh Farm Raised Free Range Grass Fed Antibiotic Free Hormone Free Non-GMO Certified Gluten Free Dairy Free Vegan Friendly Heart Healthy Chicken Breast Tenderloin Filet"

	result := p.PreprocessQuery(longName)

	if len(result) > maxQueryLength {
		t.Errorf("result length = %d, want <= %d", len(result), maxQueryLength)
	}
	if strings.HasSuffix(result, " ") {
		t.Errorf("result %q should be cut at a word boundary", result)
	}
}

func TestRemoveNoiseWords(t *testing.T) {
	testCases := []struct {
		input string
		want  string
	}{
		{"premium select milk", "milk"},
		{"buy some eggs", "eggs"},
		{"Box Cereal", "cereal"},
		{"value, bread", "bread"},
		{"", ""},
		{"chicken breast", "chicken breast"},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got := removeNoiseWords(tc.input)
			if got != tc.want {
				t.Errorf("removeNoiseWords(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestCleanOrphanedPunctuation(t *testing.T) {
	testCases := []struct {
		input string
		want  string
	}{
		{"milk , cheese", "milk cheese"},
		{", milk", " milk"}, // leading comma removed but space remains
		{"milk,", "milk"},
		{"milk - cheese", "milk cheese"},
		{"milk", "milk"},
		{"", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got := cleanOrphanedPunctuation(tc.input)
			if got != tc.want {
				t.Errorf("cleanOrphanedPunctuation(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}
