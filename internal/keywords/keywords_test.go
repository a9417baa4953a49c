package keywords

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	got := Tokenize("Hello, World! Go-1.25 rocks")
	want := []string{"hello", "world", "go", "1", "25", "rocks"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokenize = %v, want %v", got, want)
	}
}

func TestTopTerms(t *testing.T) {
	text := "compression compression archive summary archive compression the the the"
	got := TopTerms(text, 2)
	want := []string{"compression", "archive"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TopTerms = %v, want %v", got, want)
	}
}

func TestTopTerms_TieKeepsFirstAppearance(t *testing.T) {
	got := TopTerms("zebra apple mango", 3)
	want := []string{"zebra", "apple", "mango"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TopTerms = %v, want %v", got, want)
	}
}

func TestExtract(t *testing.T) {
	got := Extract("My golang code has a bug in the database query")
	for _, tag := range []string{"golang", "code", "bug", "database", "query"} {
		found := false
		for _, g := range got {
			if g == tag {
				found = true
			}
		}
		if !found {
			t.Errorf("expected tag %q in %v", tag, got)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("tags not sorted/deduplicated: %v", got)
		}
	}
}

func TestTermsDropsStopwordsAndShortTokens(t *testing.T) {
	got := Terms("it is a go thing, a thing")
	want := []string{"thing"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Terms = %v, want %v", got, want)
	}
}

func TestIsComplex(t *testing.T) {
	if !IsComplex("quantum") || IsComplex("price") {
		t.Error("unexpected complex-subject classification")
	}
}
