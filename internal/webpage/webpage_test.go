package webpage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const releasePage = `<!DOCTYPE html>
<html><head><title> Release notes </title>
<meta name="description" content="What changed in 1.2">
<style>body { color: red }</style></head>
<body><nav>Home | About</nav>
<main><h1>Steward 1.2</h1><p>Adds   daily check-ins.</p>
<ul><li>Faster</li><li>Smaller</li></ul>
<script>var tracking = true;</script></main>
<footer>Copyright</footer></body></html>`

func TestExtract(t *testing.T) {
	doc := extract(releasePage)
	if doc.title != "Release notes" {
		t.Errorf("title = %q", doc.title)
	}
	if doc.description != "What changed in 1.2" {
		t.Errorf("description = %q", doc.description)
	}
	want := "Steward 1.2\n\nAdds daily check-ins.\n\nFaster\nSmaller"
	if doc.text != want {
		t.Errorf("text = %q\nwant %q", doc.text, want)
	}
	for _, banned := range []string{"Home", "Copyright", "tracking", "color"} {
		if strings.Contains(doc.text, banned) {
			t.Errorf("text should not contain %q", banned)
		}
	}
}

func TestTidy(t *testing.T) {
	in := "\n\n  a   b \n\n\n\n c\t d \n\n"
	if got := tidy(in); got != "a b\n\nc d" {
		t.Errorf("tidy = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	s, cut := truncate("héllo wörld", 5)
	if s != "héllo" || !cut {
		t.Errorf("truncate = %q, %v", s, cut)
	}
	s, cut = truncate("short", 10)
	if s != "short" || cut {
		t.Errorf("truncate = %q, %v", s, cut)
	}
}

func TestRead(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/notes", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(releasePage))
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("just   text\n\n\n\nmore"))
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := NewReader(srv.Client(), 0)
	ctx := context.Background()

	page, err := r.Read(ctx, srv.URL+"/notes")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if page.Title != "Release notes" || !strings.HasPrefix(page.Text, "Steward 1.2") || page.Truncated {
		t.Errorf("page = %+v", page)
	}

	page, err = r.Read(ctx, srv.URL+"/plain")
	if err != nil {
		t.Fatalf("Read plain: %v", err)
	}
	if page.Text != "just text\n\nmore" {
		t.Errorf("plain text = %q", page.Text)
	}

	if _, err := r.Read(ctx, srv.URL+"/gone"); err == nil || !strings.Contains(err.Error(), "410") {
		t.Errorf("gone err = %v", err)
	}
	if _, err := r.Read(ctx, "ftp://example.com/file"); err == nil {
		t.Error("ftp scheme should be rejected")
	}
	if _, err := r.Read(ctx, "  "); err == nil {
		t.Error("empty url should be rejected")
	}
}

func TestReadWebpageTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(releasePage))
	}))
	defer srv.Close()

	tool := NewReader(srv.Client(), 11).Tool()
	out, err := tool.Handler(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	page := out.(*Page)
	if page.Text != "Steward 1.2" || !page.Truncated {
		t.Errorf("page = %+v", page)
	}
}
