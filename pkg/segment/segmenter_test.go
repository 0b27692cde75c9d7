package segment

import (
	"reflect"
	"testing"
)

func TestAbbreviationDoesNotSplit(t *testing.T) {
	s := New()
	got := s.Push("Dr. Smith won. The end.")
	want := []string{"Dr. Smith won.", "The end."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if s.Pending() {
		t.Fatalf("nothing should remain pending")
	}
}

func TestIncrementalTokens(t *testing.T) {
	s := New()
	var got []string
	for _, tok := range []string{"The answ", "er is 4.", " Got", " it?"} {
		got = append(got, s.Push(tok)...)
	}
	want := []string{"The answer is 4.", "Got it?"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestTerminatorMidWordDoesNotSplit(t *testing.T) {
	s := New()
	if got := s.Push("Pi is 3.14"); got != nil {
		t.Fatalf("decimal point must not close a sentence, got %q", got)
	}
	if got := s.Push("159, roughly."); !reflect.DeepEqual(got, []string{"Pi is 3.14159, roughly."}) {
		t.Fatalf("unexpected sentences %q", got)
	}
}

func TestAbbreviationVariants(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"Apples vs. oranges differ. Yes!", []string{"Apples vs. oranges differ.", "Yes!"}},
		{"Fruit, e.g. apples, is good. Eat some.", []string{"Fruit, e.g. apples, is good.", "Eat some."}},
		{"Mrs. Lee teaches. Mr. Ray listens.", []string{"Mrs. Lee teaches.", "Mr. Ray listens."}},
		{"Ms. Chen agrees, etc. So be it.", []string{"Ms. Chen agrees, etc. So be it."}},
	}
	for _, tc := range cases {
		s := New()
		got := s.Push(tc.in)
		if rest := s.Flush(); rest != "" {
			got = append(got, rest)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("input %q: expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestStemInsideLongerWordStillSplits(t *testing.T) {
	s := New()
	got := s.Push("He raised the bar. Next!")
	want := []string{"He raised the bar.", "Next!"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestFlushReturnsFragment(t *testing.T) {
	s := New()
	if got := s.Push("And finally"); got != nil {
		t.Fatalf("incomplete sentence must stay pending, got %q", got)
	}
	if frag := s.Flush(); frag != "And finally" {
		t.Fatalf("expected flushed fragment, got %q", frag)
	}
	if frag := s.Flush(); frag != "" {
		t.Fatalf("second flush must be empty, got %q", frag)
	}
}

func TestNewlineClosesSentence(t *testing.T) {
	s := New()
	got := s.Push("First line.\nSecond line.")
	want := []string{"First line.", "Second line."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
