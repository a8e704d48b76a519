package shoutcast

import (
	"fmt"
	"io"
	"strings"
)

type playlistKind int

const (
	notPlaylist playlistKind = iota
	plsPlaylist
	m3uPlaylist
)

// maxPlaylistSize bounds how much of a response is read as a playlist.
const maxPlaylistSize = 1 << 20

// parsePLS parses a PLS playlist file and returns the first stream URL
func parsePLS(body io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxPlaylistSize))
	if err != nil {
		return "", fmt.Errorf("failed to read playlist: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "File") && strings.Contains(line, "=") {
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 {
				url := strings.TrimSpace(parts[1])
				if url != "" {
					return url, nil
				}
			}
		}
	}

	return "", fmt.Errorf("no stream URL found in PLS playlist")
}

// parseM3U parses an M3U playlist file and returns the first stream URL
func parseM3U(body io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxPlaylistSize))
	if err != nil {
		return "", fmt.Errorf("failed to read playlist: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	for _, line := range lines {
		line = strings.TrimSpace(line)
		// Skip comments and empty lines
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			return line, nil
		}
	}

	return "", fmt.Errorf("no stream URL found in M3U playlist")
}

// detectPlaylist decides whether a response is a playlist from its URL,
// Content-Type and the first bytes of its body.
func detectPlaylist(url, contentType string, peek []byte) playlistKind {
	content := string(peek)
	contentType = strings.ToLower(contentType)

	isPLS := strings.Contains(contentType, "audio/x-scpls") ||
		strings.Contains(contentType, "application/pls+xml") ||
		strings.HasSuffix(url, ".pls") ||
		strings.Contains(content, "[playlist]") ||
		strings.Contains(content, "File1=")
	if isPLS {
		return plsPlaylist
	}

	isM3U := strings.Contains(contentType, "audio/mpegurl") ||
		strings.Contains(contentType, "audio/x-mpegurl") ||
		strings.Contains(contentType, "application/vnd.apple.mpegurl") ||
		strings.HasSuffix(url, ".m3u") ||
		strings.HasSuffix(url, ".m3u8") ||
		strings.HasPrefix(content, "#EXTM3U")
	if isM3U {
		return m3uPlaylist
	}

	// A text body made of a bare URL is a playlist too.
	if strings.HasPrefix(contentType, "text/") {
		trimmed := strings.TrimSpace(content)
		if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
			return m3uPlaylist
		}
	}

	return notPlaylist
}

func parsePlaylist(kind playlistKind, body io.Reader) (string, error) {
	switch kind {
	case plsPlaylist:
		streamURL, err := parsePLS(body)
		if err != nil {
			return "", fmt.Errorf("failed to parse PLS playlist: %w", err)
		}
		return streamURL, nil
	case m3uPlaylist:
		streamURL, err := parseM3U(body)
		if err != nil {
			return "", fmt.Errorf("failed to parse M3U playlist: %w", err)
		}
		return streamURL, nil
	}
	return "", fmt.Errorf("not a playlist")
}
