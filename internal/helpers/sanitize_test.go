package helpers

import "testing"

func TestPlainTextStripsMarkup(t *testing.T) {
	in := `<h1>Title</h1><p>Hello <b>world</b> &amp; friends</p><script>alert(1)</script><p>a &lt; b</p>`
	want := "Title\nHello world & friends\na < b"
	if got := PlainText(in); got != want {
		t.Fatalf("PlainText = %q, want %q", got, want)
	}
}

func TestPlainTextKeepsPlainInput(t *testing.T) {
	if got := PlainText("  just   text  "); got != "just text" {
		t.Fatalf("unexpected %q", got)
	}
	if PlainText("   ") != "" {
		t.Fatalf("expected blank input to stay empty")
	}
}
