package checksum

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Outcome int

const (
	Unverifiable Outcome = iota
	Matched
	Mismatched
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case Mismatched:
		return "mismatched"
	}
	return "unverifiable"
}

// Reference is where the expected digest came from.
type Reference struct {
	Digest string
	Source string // "online" | "local-file" | "none"
}

var hexDigest = regexp.MustCompile(`\b([a-fA-F0-9]{64})\b`)

// test seams
var (
	searchBaseURL = "https://duckduckgo.com/html/?q="
	httpClient    = &http.Client{Timeout: 10 * time.Second}
)

const maxCandidateLinks = 8

// Verify corroborates a computed digest against a reference found online or
// in a sibling checksum manifest. It never returns an error: every failure
// along the way degrades to Unverifiable. The caller proceeds regardless of
// the outcome; Mismatched is only grounds for a warning.
func Verify(ctx context.Context, computed, imagePath string, log zerolog.Logger) (Outcome, Reference) {
	name := filepath.Base(imagePath)

	if d, err := fetchOnline(ctx, name); err != nil {
		log.Warn().Err(err).Msg("online checksum search failed, proceeding without it")
	} else if d != "" {
		ref := Reference{Digest: d, Source: "online"}
		return compare(computed, ref), ref
	}

	if file, d := findLocal(imagePath); d != "" {
		log.Info().Str("file", file).Msg("found local checksum manifest")
		ref := Reference{Digest: d, Source: "local-file"}
		return compare(computed, ref), ref
	}

	log.Info().Msg("no online or local checksum reference found")
	return Unverifiable, Reference{Source: "none"}
}

func compare(computed string, ref Reference) Outcome {
	if strings.EqualFold(strings.TrimSpace(computed), strings.TrimSpace(ref.Digest)) {
		return Matched
	}
	return Mismatched
}

// MatchesExpected is the standalone comparison used when the caller already
// holds an expected digest.
func MatchesExpected(computed, expected string) bool {
	return strings.EqualFold(strings.TrimSpace(computed), strings.TrimSpace(expected))
}

// fetchOnline searches the web for a checksum advertised alongside the image
// name, scanning the result page and up to maxCandidateLinks checksum-looking
// links for a 64-hex token, preferring lines that mention the image name.
func fetchOnline(ctx context.Context, imageName string) (string, error) {
	page, err := fetchPage(ctx, searchBaseURL+url.QueryEscape(imageName+" SHA256"))
	if err != nil {
		return "", err
	}

	if m := hexDigest.FindString(page); m != "" {
		return m, nil
	}

	links := regexp.MustCompile(`href=["']([^"']+)["']`).FindAllStringSubmatch(page, -1)
	var candidates []string
	for _, l := range links {
		u := l[1]
		lu := strings.ToLower(u)
		if !strings.HasPrefix(u, "http") {
			continue
		}
		if strings.Contains(lu, "sha256") || strings.Contains(lu, "checksum") || strings.Contains(lu, "sha1") {
			candidates = append(candidates, u)
		}
	}
	if len(candidates) > maxCandidateLinks {
		candidates = candidates[:maxCandidateLinks]
	}
	for _, c := range candidates {
		txt, err := fetchPage(ctx, c)
		if err != nil {
			continue
		}
		if d := digestFromManifest(txt, imageName); d != "" {
			return d, nil
		}
	}
	return "", nil
}

func fetchPage(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "curl/7.68.0")
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// digestFromManifest extracts a 64-hex token from manifest-style text,
// preferring lines that also mention the image file name.
func digestFromManifest(text, imageName string) string {
	var fallback string
	for _, line := range strings.Split(text, "\n") {
		m := hexDigest.FindString(line)
		if m == "" {
			continue
		}
		if strings.Contains(line, imageName) {
			return m
		}
		if fallback == "" {
			fallback = m
		}
	}
	return fallback
}

// findLocal scans the image's directory for sibling files whose name
// suggests a checksum manifest and extracts an expected digest from the
// first one that yields a 64-hex token.
func findLocal(imagePath string) (string, string) {
	dir := filepath.Dir(imagePath)
	name := filepath.Base(imagePath)

	var candidates []string
	for _, ext := range []string{".sha256", ".sha256sum", ".sha256.txt", ".sha256sum.txt"} {
		p := filepath.Join(dir, name+ext)
		if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", ""
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			lf := strings.ToLower(e.Name())
			if strings.Contains(lf, "checksum") ||
				(strings.Contains(lf, "sha") && (strings.HasSuffix(lf, ".txt") || strings.HasSuffix(lf, ".sum") || strings.HasSuffix(lf, ".sha256"))) {
				candidates = append(candidates, filepath.Join(dir, e.Name()))
			}
		}
	}

	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if d := digestFromManifest(string(data), name); d != "" {
			return p, d
		}
	}
	return "", ""
}
