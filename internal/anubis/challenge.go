// Package anubis detects and solves the anti-bot interstitial some
// mirror networks place in front of their pages. Detection is keyed on
// literal page markers; if the upstream vendor changes its markup,
// detection stops firing rather than erroring.
package anubis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// State of one detect-solve-verify attempt.
type State string

const (
	StateUnchallenged State = "unchallenged"
	StateDetected     State = "detected"
	StateSolving      State = "solving"
	StateVerified     State = "verified"
	StateFailed       State = "failed"
)

// Challenge algorithms.
const (
	AlgoMetaRefresh = "metarefresh"
	AlgoPreact      = "preact"
	AlgoFast        = "fast"
	AlgoSlow        = "slow"
)

// Challenge is the descriptor extracted from a blocked page. Derived
// per blocked request, consumed once, never cached.
type Challenge struct {
	Algorithm  string
	Difficulty float64
	ID         string
	RandomData string
	PassURL    string
	Redir      string
}

// Page markers that identify a challenge interstitial.
var detectMarkers = [][]byte{
	[]byte("Making sure you're not a bot!"),
	[]byte(`id="anubis_challenge"`),
	[]byte(`id="anubis_version"`),
	[]byte("/.within.website/x/cmd/anubis/"),
}

// IsChallenge reports whether a response body is a challenge page.
func IsChallenge(body []byte) bool {
	for _, marker := range detectMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

var challengeScriptRe = regexp.MustCompile(`(?s)<script[^>]+id="anubis_challenge"[^>]*>(.*?)</script>`)

// flatDescriptor is the older, single-level descriptor shape.
type flatDescriptor struct {
	Algorithm  string  `json:"algorithm"`
	Difficulty float64 `json:"difficulty"`
	ID         string  `json:"id"`
	RandomData string  `json:"randomData"`
	PassURL    string  `json:"passUrl"`
	Redir      string  `json:"redir"`
}

// nestedDescriptor is the newer shape splitting the challenge payload
// from its rules.
type nestedDescriptor struct {
	Challenge struct {
		ID         string `json:"id"`
		RandomData string `json:"randomData"`
		PassURL    string `json:"passUrl"`
		Redir      string `json:"redir"`
	} `json:"challenge"`
	Rules struct {
		Algorithm  string  `json:"algorithm"`
		Difficulty float64 `json:"difficulty"`
	} `json:"rules"`
}

// ParseChallenge extracts the JSON descriptor embedded in a challenge
// page. Both known schema shapes are accepted. Relative pass URLs are
// resolved against pageURL.
func ParseChallenge(body []byte, pageURL *url.URL) (*Challenge, error) {
	m := challengeScriptRe.FindSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("challenge descriptor not found in page")
	}
	raw := bytes.TrimSpace(m[1])

	ch := &Challenge{}

	var nested nestedDescriptor
	if err := json.Unmarshal(raw, &nested); err == nil && nested.Rules.Algorithm != "" {
		ch.Algorithm = nested.Rules.Algorithm
		ch.Difficulty = nested.Rules.Difficulty
		ch.ID = nested.Challenge.ID
		ch.RandomData = nested.Challenge.RandomData
		ch.PassURL = nested.Challenge.PassURL
		ch.Redir = nested.Challenge.Redir
	} else {
		var flat flatDescriptor
		if err := json.Unmarshal(raw, &flat); err != nil {
			return nil, fmt.Errorf("parse challenge descriptor: %w", err)
		}
		if flat.Algorithm == "" {
			return nil, fmt.Errorf("challenge descriptor has no algorithm")
		}
		ch.Algorithm = flat.Algorithm
		ch.Difficulty = flat.Difficulty
		ch.ID = flat.ID
		ch.RandomData = flat.RandomData
		ch.PassURL = flat.PassURL
		ch.Redir = flat.Redir
	}

	if ch.PassURL == "" {
		ch.PassURL = "/.within.website/x/cmd/anubis/api/pass-challenge"
	}
	if ch.Redir == "" && pageURL != nil {
		ch.Redir = pageURL.RequestURI()
	}
	if pageURL != nil && strings.HasPrefix(ch.PassURL, "/") {
		ref, err := url.Parse(ch.PassURL)
		if err != nil {
			return nil, fmt.Errorf("parse pass URL: %w", err)
		}
		ch.PassURL = pageURL.ResolveReference(ref).String()
	}

	return ch, nil
}
