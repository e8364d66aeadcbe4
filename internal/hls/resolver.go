// Package hls resolves adaptive streaming manifests into direct media
// URLs. Only the subset of the playlist format the supported mirrors
// emit is parsed.
package hls

import (
	"bufio"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Variant is one rendition listed in a master playlist.
type Variant struct {
	URL       *url.URL
	Bandwidth int
	Width     int
	Height    int
}

// ErrNoVariants is returned when a manifest lists no usable variants.
var ErrNoVariants = fmt.Errorf("manifest has no variants")

// Resolve parses a master playlist and returns the variant with the
// highest bandwidth (first seen wins ties). The variant URI is resolved
// against manifestURL; if the resolved URI carries no query string, the
// manifest's own query is re-attached, since mirrors require the same
// access token on every variant request.
func Resolve(manifest string, manifestURL *url.URL) (*Variant, error) {
	var best *Variant

	scanner := bufio.NewScanner(strings.NewReader(manifest))
	var pending *Variant
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			pending = parseStreamInf(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
		case pending != nil && line != "" && !strings.HasPrefix(line, "#"):
			ref, err := url.Parse(line)
			if err != nil {
				pending = nil
				continue
			}
			resolved := manifestURL.ResolveReference(ref)
			if resolved.RawQuery == "" {
				resolved.RawQuery = manifestURL.RawQuery
			}
			pending.URL = resolved
			if best == nil || pending.Bandwidth > best.Bandwidth {
				best = pending
			}
			pending = nil
		}
	}

	if best == nil {
		return nil, ErrNoVariants
	}
	return best, nil
}

// ProgressiveURL rewrites the variant's playlist extension to .mp4.
// The supported mirrors serve an equivalent progressive file at the
// same path, which is preferred over multiplexing segments manually.
func ProgressiveURL(v *Variant) (*url.URL, bool) {
	if v.URL == nil || !strings.HasSuffix(v.URL.Path, ".m3u8") {
		return nil, false
	}
	u := *v.URL
	u.Path = strings.TrimSuffix(u.Path, ".m3u8") + ".mp4"
	return &u, true
}

// Segments lists the segment URLs of a media playlist, resolved against
// baseURL. Used by the downloader's assembly fallback.
func Segments(playlist string, baseURL *url.URL) []*url.URL {
	var out []*url.URL
	scanner := bufio.NewScanner(strings.NewReader(playlist))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ref, err := url.Parse(line)
		if err != nil {
			continue
		}
		resolved := baseURL.ResolveReference(ref)
		if resolved.RawQuery == "" {
			resolved.RawQuery = baseURL.RawQuery
		}
		out = append(out, resolved)
	}
	return out
}

// parseStreamInf reads the attribute list of an EXT-X-STREAM-INF tag.
// Attribute values may be quoted and contain commas, so the split walks
// quote state by hand.
func parseStreamInf(attrs string) *Variant {
	v := &Variant{}
	for _, attr := range splitAttributes(attrs) {
		key, value, ok := strings.Cut(attr, "=")
		if !ok {
			continue
		}
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "BANDWIDTH":
			v.Bandwidth, _ = strconv.Atoi(strings.TrimSpace(value))
		case "RESOLUTION":
			w, h, ok := strings.Cut(strings.TrimSpace(value), "x")
			if ok {
				v.Width, _ = strconv.Atoi(w)
				v.Height, _ = strconv.Atoi(h)
			}
		}
	}
	return v
}

func splitAttributes(s string) []string {
	var parts []string
	var sb strings.Builder
	inQuote := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ',' && !inQuote:
			parts = append(parts, sb.String())
			sb.Reset()
			continue
		}
		sb.WriteRune(r)
	}
	if sb.Len() > 0 {
		parts = append(parts, sb.String())
	}
	return parts
}

// IsManifest reports whether a payload starts with the playlist
// signature.
func IsManifest(payload []byte) bool {
	return strings.HasPrefix(strings.TrimLeft(string(payload[:min(16, len(payload))]), "\uFEFF \t\r\n"), "#EXTM3U")
}

// IsMasterPlaylist reports whether the manifest lists variants rather
// than segments.
func IsMasterPlaylist(manifest string) bool {
	return strings.Contains(manifest, "#EXT-X-STREAM-INF:")
}
