// Package validation holds the input checks shared by the configuration,
// the watcher and the preview server.
package validation

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
)

// dangerousPathChars are shell metacharacters that never appear in a
// legitimate photo folder name.
const dangerousPathChars = ";&|$`<>\"'\x00"

// ValidatePath rejects empty paths, paths with a ".." segment and paths
// containing shell metacharacters. Spaces are fine; several villa folders
// have them.
func ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path cannot be empty")
	}

	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path traversal detected: %s", path)
		}
	}

	if i := strings.IndexAny(path, dangerousPathChars); i >= 0 {
		return fmt.Errorf("path contains dangerous character: %q", path[i])
	}

	return nil
}

// ValidateHost rejects host names carrying shell or URL metacharacters.
func ValidateHost(host string) error {
	if strings.ContainsAny(host, ";&|$`()<>\"'\\ /") {
		return fmt.Errorf("host %q contains invalid characters", host)
	}
	return nil
}

// ValidateOrigin checks a WebSocket Origin header against the host the
// request was sent to. Same-host origins pass, as do loopback origins on
// the same port so localhost and 127.0.0.1 are interchangeable.
func ValidateOrigin(origin, requestHost string) error {
	if origin == "" {
		return fmt.Errorf("origin header is required")
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin format: %w", err)
	}

	if originURL.Scheme != "http" && originURL.Scheme != "https" {
		return fmt.Errorf("invalid origin scheme '%s': only http and https are allowed", originURL.Scheme)
	}

	if originURL.Host == requestHost {
		return nil
	}

	if !isLoopback(originURL.Hostname()) {
		return fmt.Errorf("origin '%s' is not allowed", origin)
	}
	_, port, _ := net.SplitHostPort(originURL.Host)
	_, reqPort, _ := net.SplitHostPort(requestHost)
	if port == "" || port != reqPort {
		return fmt.Errorf("origin '%s' does not match port %q", origin, reqPort)
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
