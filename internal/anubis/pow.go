package anubis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// PoWResult is a nonce whose hash satisfies the difficulty target.
type PoWResult struct {
	Hash  string
	Nonce int
}

// SolvePoW searches integer nonces from 0 upward for the first one
// where sha256(randomData + nonce) in hex starts with difficulty zero
// characters. The search fans out across workers; the caller bounds it
// with a context deadline so difficulty cannot starve the process.
func SolvePoW(ctx context.Context, randomData string, difficulty int) (*PoWResult, error) {
	if difficulty < 0 {
		difficulty = 0
	}
	prefix := strings.Repeat("0", difficulty)

	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}

	type found struct {
		hash  string
		nonce int
	}

	results := make(chan found, workers)
	done := make(chan struct{})
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(start int) {
			defer wg.Done()
			for nonce := start; ; nonce += workers {
				select {
				case <-ctx.Done():
					return
				case <-done:
					return
				default:
				}
				sum := sha256.Sum256([]byte(randomData + strconv.Itoa(nonce)))
				h := hex.EncodeToString(sum[:])
				if strings.HasPrefix(h, prefix) {
					select {
					case results <- found{hash: h, nonce: nonce}:
					case <-done:
					case <-ctx.Done():
					}
					return
				}
			}
		}(w)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// Keep the lowest nonce among the candidates workers managed to
	// submit before the search stopped.
	var best *found
	collect := func(f found) {
		if best == nil || f.nonce < best.nonce {
			best = &found{hash: f.hash, nonce: f.nonce}
		}
	}

	select {
	case f, ok := <-results:
		if !ok {
			return nil, ctx.Err()
		}
		collect(f)
	case <-ctx.Done():
		close(done)
		wg.Wait()
		return nil, ctx.Err()
	}

	close(done)
	wg.Wait()
	for f := range results {
		collect(f)
	}

	return &PoWResult{Hash: best.hash, Nonce: best.nonce}, nil
}

// HashHex is the sha256 hex digest used by the preact algorithm.
func HashHex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
