package anubis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/vportnov/linkpost/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const challengePage = `<html><head><title>Making sure you're not a bot!</title></head>
<body>
<script id="anubis_challenge" type="application/json">
{"algorithm":"fast","difficulty":2,"id":"ch-1","randomData":"abcdef","passUrl":"/.within.website/x/cmd/anubis/api/pass-challenge","redir":"/watch?v=xyz"}
</script>
</body></html>`

const nestedChallengePage = `<html><body>
<script id="anubis_challenge" type="application/json">
{"challenge":{"id":"ch-2","randomData":"feedbeef","passUrl":"/pass","redir":"/next"},"rules":{"algorithm":"preact","difficulty":0}}
</script>
</body></html>`

func TestIsChallenge(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"title marker", challengePage, true},
		{"script id marker", nestedChallengePage, true},
		{"plain page", "<html><body>a video</body></html>", false},
		{"json api response", `{"title":"some video"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsChallenge([]byte(tt.body)); got != tt.want {
				t.Errorf("IsChallenge() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseChallenge_FlatShape(t *testing.T) {
	pageURL, _ := url.Parse("https://mirror.test/watch?v=xyz")

	ch, err := ParseChallenge([]byte(challengePage), pageURL)
	if err != nil {
		t.Fatalf("ParseChallenge() error: %v", err)
	}

	if ch.Algorithm != "fast" || ch.Difficulty != 2 {
		t.Errorf("algorithm/difficulty = %s/%v", ch.Algorithm, ch.Difficulty)
	}
	if ch.ID != "ch-1" || ch.RandomData != "abcdef" {
		t.Errorf("id/randomData = %s/%s", ch.ID, ch.RandomData)
	}
	if ch.PassURL != "https://mirror.test/.within.website/x/cmd/anubis/api/pass-challenge" {
		t.Errorf("passURL = %q, want resolved against page URL", ch.PassURL)
	}
	if ch.Redir != "/watch?v=xyz" {
		t.Errorf("redir = %q", ch.Redir)
	}
}

func TestParseChallenge_NestedShape(t *testing.T) {
	pageURL, _ := url.Parse("https://mirror.test/page")

	ch, err := ParseChallenge([]byte(nestedChallengePage), pageURL)
	if err != nil {
		t.Fatalf("ParseChallenge() error: %v", err)
	}

	if ch.Algorithm != "preact" {
		t.Errorf("algorithm = %q", ch.Algorithm)
	}
	if ch.ID != "ch-2" || ch.RandomData != "feedbeef" {
		t.Errorf("id/randomData = %s/%s", ch.ID, ch.RandomData)
	}
	if ch.PassURL != "https://mirror.test/pass" {
		t.Errorf("passURL = %q", ch.PassURL)
	}
}

func TestParseChallenge_Missing(t *testing.T) {
	if _, err := ParseChallenge([]byte("<html></html>"), nil); err == nil {
		t.Error("ParseChallenge() should fail without a descriptor")
	}
}

func TestSolvePoW_SatisfiesDifficulty(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	const randomData = "test-random-data"
	const difficulty = 3

	result, err := SolvePoW(ctx, randomData, difficulty)
	if err != nil {
		t.Fatalf("SolvePoW() error: %v", err)
	}

	sum := sha256.Sum256([]byte(randomData + strconv.Itoa(result.Nonce)))
	want := hex.EncodeToString(sum[:])
	if result.Hash != want {
		t.Errorf("hash = %q does not match recomputed digest", result.Hash)
	}
	if !strings.HasPrefix(result.Hash, strings.Repeat("0", difficulty)) {
		t.Errorf("hash %q lacks %d leading zeros", result.Hash, difficulty)
	}
}

func TestSolvePoW_BudgetExceeded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Difficulty 20 is far beyond what 50ms can find.
	if _, err := SolvePoW(ctx, "data", 20); err == nil {
		t.Error("SolvePoW() should fail when the budget is exceeded")
	}
}

func TestSolvePoW_ZeroDifficulty(t *testing.T) {
	result, err := SolvePoW(context.Background(), "x", 0)
	if err != nil {
		t.Fatalf("SolvePoW() error: %v", err)
	}
	if result.Nonce != 0 {
		t.Errorf("nonce = %d, want 0 for zero difficulty", result.Nonce)
	}
}

func newSolverClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar, Timeout: 10 * time.Second}
}

func TestSolve_PoWEndToEnd(t *testing.T) {
	var gotParams url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotParams = r.URL.Query()
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	solver := NewSolver(newSolverClient(t), 20*time.Second, testLogger())
	ch := &Challenge{
		Algorithm:  AlgoFast,
		Difficulty: 1,
		ID:         "ch-9",
		RandomData: "rdata",
		PassURL:    srv.URL + "/pass",
		Redir:      "/after",
	}

	if err := solver.Solve(context.Background(), ch); err != nil {
		t.Fatalf("Solve() error: %v", err)
	}

	if gotParams.Get("id") != "ch-9" || gotParams.Get("redir") != "/after" {
		t.Errorf("pass params missing id/redir: %v", gotParams)
	}
	nonce, err := strconv.Atoi(gotParams.Get("nonce"))
	if err != nil {
		t.Fatalf("nonce param not an integer: %v", err)
	}
	sum := sha256.Sum256([]byte("rdata" + strconv.Itoa(nonce)))
	if gotParams.Get("response") != hex.EncodeToString(sum[:]) {
		t.Error("submitted response does not match sha256(randomData+nonce)")
	}
	if gotParams.Get("elapsedTime") == "" {
		t.Error("elapsedTime param missing")
	}
}

func TestSolve_PreactSubmitsDigest(t *testing.T) {
	var gotParams url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotParams = r.URL.Query()
		w.Write([]byte("passed"))
	}))
	defer srv.Close()

	solver := NewSolver(newSolverClient(t), 0, testLogger())
	ch := &Challenge{
		Algorithm:  AlgoPreact,
		Difficulty: 0,
		ID:         "ch-p",
		RandomData: "feedbeef",
		PassURL:    srv.URL + "/pass",
		Redir:      "/r",
	}

	if err := solver.Solve(context.Background(), ch); err != nil {
		t.Fatalf("Solve() error: %v", err)
	}

	if gotParams.Get("result") != HashHex("feedbeef") {
		t.Errorf("result param = %q, want sha256 hex of randomData", gotParams.Get("result"))
	}
}

func TestSolve_MetaRefreshSubmitsRandomData(t *testing.T) {
	var gotParams url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotParams = r.URL.Query()
		w.Write([]byte("passed"))
	}))
	defer srv.Close()

	solver := NewSolver(newSolverClient(t), 0, testLogger())
	ch := &Challenge{
		Algorithm:  AlgoMetaRefresh,
		Difficulty: 0,
		ID:         "ch-m",
		RandomData: "rnd",
		PassURL:    srv.URL + "/pass",
	}

	if err := solver.Solve(context.Background(), ch); err != nil {
		t.Fatalf("Solve() error: %v", err)
	}

	if gotParams.Get("challenge") != "rnd" {
		t.Errorf("challenge param = %q", gotParams.Get("challenge"))
	}
}

func TestSolve_UnknownAlgorithmFails(t *testing.T) {
	solver := NewSolver(newSolverClient(t), 0, testLogger())
	err := solver.Solve(context.Background(), &Challenge{Algorithm: "quantum"})
	if !errors.Is(err, domain.ErrChallengeUnsolved) {
		t.Errorf("Solve() error = %v, want ErrChallengeUnsolved", err)
	}
}

func TestSolve_RechallengeFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The pass endpoint serves another block page.
		w.Write([]byte(challengePage))
	}))
	defer srv.Close()

	solver := NewSolver(newSolverClient(t), 0, testLogger())
	ch := &Challenge{
		Algorithm:  AlgoMetaRefresh,
		Difficulty: 0,
		ID:         "ch-r",
		RandomData: "rnd",
		PassURL:    srv.URL + "/pass",
	}

	err := solver.Solve(context.Background(), ch)
	if !errors.Is(err, domain.ErrChallengeUnsolved) {
		t.Errorf("Solve() error = %v, want ErrChallengeUnsolved", err)
	}
}
