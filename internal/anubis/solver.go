package anubis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vportnov/linkpost/internal/domain"
)

// Solver runs the detect-solve-verify sequence against a challenge
// page. The HTTP client must carry a cookie jar; the clearance cookie
// set by a successful pass is what unblocks the retried request.
type Solver struct {
	client      *http.Client
	logger      *slog.Logger
	solveBudget time.Duration
}

// NewSolver creates a Solver. solveBudget bounds a single
// proof-of-work search; zero selects the 20s default.
func NewSolver(client *http.Client, solveBudget time.Duration, logger *slog.Logger) *Solver {
	if solveBudget <= 0 {
		solveBudget = 20 * time.Second
	}
	return &Solver{
		client:      client,
		logger:      logger,
		solveBudget: solveBudget,
	}
}

// Solve works through one challenge: sleep or compute per the
// algorithm, submit to the pass URL, and verify the returned page is
// not itself a challenge. Returns domain.ErrChallengeUnsolved when the
// attempt fails; the caller moves on to the next mirror.
func (s *Solver) Solve(ctx context.Context, ch *Challenge) error {
	state := StateDetected
	logger := s.logger.With("algorithm", ch.Algorithm, "challenge_id", ch.ID)
	logger.Debug("challenge detected", "state", state)

	state = StateSolving
	logger.Debug("solving challenge", "state", state, "difficulty", ch.Difficulty)
	started := time.Now()

	params := url.Values{}
	params.Set("id", ch.ID)
	params.Set("redir", ch.Redir)

	switch ch.Algorithm {
	case AlgoMetaRefresh:
		if err := sleepCtx(ctx, secondsToDuration(ch.Difficulty*0.8+0.1)); err != nil {
			return err
		}
		params.Set("challenge", ch.RandomData)

	case AlgoPreact:
		if err := sleepCtx(ctx, secondsToDuration(ch.Difficulty*0.125+0.05)); err != nil {
			return err
		}
		params.Set("result", HashHex(ch.RandomData))

	case AlgoFast, AlgoSlow:
		powCtx, cancel := context.WithTimeout(ctx, s.solveBudget)
		result, err := SolvePoW(powCtx, ch.RandomData, int(ch.Difficulty))
		cancel()
		if err != nil {
			logger.Warn("proof-of-work search exhausted budget", "error", err)
			return fmt.Errorf("%w: %v", domain.ErrChallengeUnsolved, err)
		}
		params.Set("response", result.Hash)
		params.Set("nonce", strconv.Itoa(result.Nonce))
		params.Set("elapsedTime", strconv.FormatInt(time.Since(started).Milliseconds(), 10))

	default:
		logger.Warn("unknown challenge algorithm")
		return fmt.Errorf("%w: unknown algorithm %q", domain.ErrChallengeUnsolved, ch.Algorithm)
	}

	body, err := s.submit(ctx, ch.PassURL, params)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrChallengeUnsolved, err)
	}

	// A wrong solution or a re-challenge hands back another block page.
	if IsChallenge(body) {
		state = StateFailed
		logger.Warn("pass response is still a challenge page", "state", state)
		return domain.ErrChallengeUnsolved
	}

	state = StateVerified
	logger.Debug("challenge solved", "state", state, "elapsed", time.Since(started))
	return nil
}

func (s *Solver) submit(ctx context.Context, passURL string, params url.Values) ([]byte, error) {
	u, err := url.Parse(passURL)
	if err != nil {
		return nil, fmt.Errorf("parse pass URL: %w", err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create pass request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send pass request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read pass response: %w", err)
	}
	return body, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
