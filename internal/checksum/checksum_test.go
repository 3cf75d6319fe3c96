package checksum

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

const (
	emptyDigest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	abcDigest   = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
)

func TestDigestEmptyFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "empty.img")
	if err := os.WriteFile(p, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Digest(p, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != emptyDigest {
		t.Errorf("digest = %s, want %s", got, emptyDigest)
	}
}

func TestDigestKnownContent(t *testing.T) {
	p := filepath.Join(t.TempDir(), "abc.img")
	if err := os.WriteFile(p, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}

	var reports []int
	got, err := Digest(p, func(pct int) { reports = append(reports, pct) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != abcDigest {
		t.Errorf("digest = %s, want %s", got, abcDigest)
	}
	if len(reports) == 0 || reports[len(reports)-1] != 100 {
		t.Errorf("progress must end at 100, got %v", reports)
	}
}

func TestDigestMissingFile(t *testing.T) {
	if _, err := Digest(filepath.Join(t.TempDir(), "no-such.img"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDigestFromManifestPrefersNamedLine(t *testing.T) {
	text := "0000000000000000000000000000000000000000000000000000000000000000  other.img\n" +
		abcDigest + "  target.img\n"
	if got := digestFromManifest(text, "target.img"); got != abcDigest {
		t.Errorf("got %s, want line naming the image", got)
	}
	// No line names the image: first hex token wins.
	if got := digestFromManifest(text, "absent.img"); got != "0000000000000000000000000000000000000000000000000000000000000000" {
		t.Errorf("fallback = %s", got)
	}
	if got := digestFromManifest("nothing here", "x.img"); got != "" {
		t.Errorf("got %q from hex-free text", got)
	}
}

func TestFindLocalExactExtension(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "os.img")
	if err := os.WriteFile(img, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	manifest := filepath.Join(dir, "os.img.sha256")
	if err := os.WriteFile(manifest, []byte(abcDigest+"  os.img\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	file, d := findLocal(img)
	if file != manifest || d != abcDigest {
		t.Errorf("got %q / %s", file, d)
	}
}

func TestFindLocalDirectoryScan(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "os.img")
	if err := os.WriteFile(img, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "CHECKSUMS"), []byte(abcDigest+"  os.img\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, d := findLocal(img); d != abcDigest {
		t.Errorf("digest = %s, want %s", d, abcDigest)
	}
}

func TestFindLocalNothing(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "os.img")
	if err := os.WriteFile(img, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if file, d := findLocal(img); file != "" || d != "" {
		t.Errorf("got %q / %q from empty dir", file, d)
	}
}

func pointSearchAt(t *testing.T, handler http.Handler) {
	t.Helper()
	srv := httptest.NewServer(handler)
	origBase, origClient := searchBaseURL, httpClient
	searchBaseURL = srv.URL + "/?q="
	httpClient = srv.Client()
	t.Cleanup(func() {
		searchBaseURL, httpClient = origBase, origClient
		srv.Close()
	})
}

func TestVerifyOnlineMatch(t *testing.T) {
	pointSearchAt(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>result: " + abcDigest + "</html>"))
	}))

	outcome, ref := Verify(context.Background(), abcDigest, "/tmp/os.img", zerolog.Nop())
	if outcome != Matched {
		t.Errorf("outcome = %v, want Matched", outcome)
	}
	if ref.Source != "online" || ref.Digest != abcDigest {
		t.Errorf("ref = %+v", ref)
	}
}

func TestVerifyOnlineMismatchWarnsOnly(t *testing.T) {
	pointSearchAt(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(abcDigest))
	}))

	outcome, _ := Verify(context.Background(), emptyDigest, "/tmp/os.img", zerolog.Nop())
	if outcome != Mismatched {
		t.Errorf("outcome = %v, want Mismatched", outcome)
	}
}

func TestVerifyFallsBackToLocalManifest(t *testing.T) {
	pointSearchAt(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>no results</html>"))
	}))

	dir := t.TempDir()
	img := filepath.Join(dir, "os.img")
	if err := os.WriteFile(img, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(img+".sha256", []byte(abcDigest+"  os.img\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	outcome, ref := Verify(context.Background(), abcDigest, img, zerolog.Nop())
	if outcome != Matched || ref.Source != "local-file" {
		t.Errorf("outcome = %v, ref = %+v", outcome, ref)
	}
}

func TestVerifyDegradesToUnverifiable(t *testing.T) {
	pointSearchAt(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	dir := t.TempDir()
	img := filepath.Join(dir, "os.img")
	if err := os.WriteFile(img, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}

	outcome, ref := Verify(context.Background(), abcDigest, img, zerolog.Nop())
	if outcome != Unverifiable || ref.Source != "none" {
		t.Errorf("outcome = %v, ref = %+v", outcome, ref)
	}
}

func TestMatchesExpected(t *testing.T) {
	if !MatchesExpected("  "+abcDigest+"\n", abcDigest) {
		t.Error("whitespace and case must not matter")
	}
	if MatchesExpected(abcDigest, emptyDigest) {
		t.Error("different digests must not match")
	}
}

func TestOutcomeString(t *testing.T) {
	tests := []struct {
		o    Outcome
		want string
	}{
		{Matched, "matched"},
		{Mismatched, "mismatched"},
		{Unverifiable, "unverifiable"},
	}
	for _, tc := range tests {
		if got := tc.o.String(); got != tc.want {
			t.Errorf("%d.String() = %q, want %q", tc.o, got, tc.want)
		}
	}
}
