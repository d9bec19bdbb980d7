//go:build integration
// +build integration

package integration_tests

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/villaretreat/imagepipe/internal/config"
)

// freePort asks the kernel for an unused TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// waitForServer polls /health until the server answers or the timeout hits.
func waitForServer(t *testing.T, baseURL string, timeout time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client := &http.Client{Timeout: time.Second}
	for {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		select {
		case <-ctx.Done():
			t.Fatalf("server at %s not ready after %s", baseURL, timeout)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// writePhoto saves a w x h photo; the format follows the extension.
func writePhoto(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	img := imaging.New(w, h, c)
	img = imaging.Paste(img, imaging.New(w/4+1, h/4+1, color.White), image.Pt(w/8, h/8))
	require.NoError(t, imaging.Save(img, path))
}

// villaSite lays out root/public/<villa> folders and a matching config.
func villaSite(t *testing.T, port int) (root string, cfg *config.Config) {
	t.Helper()
	root = t.TempDir()
	villaA := filepath.Join(root, "public", "villa-a")
	villaB := filepath.Join(root, "public", "LavishVilla 1")
	require.NoError(t, os.MkdirAll(filepath.Join(villaA, "raw"), 0o755))
	require.NoError(t, os.MkdirAll(villaB, 0o755))

	writePhoto(t, filepath.Join(villaA, "a.jpg"), 1600, 900, color.NRGBA{R: 200, G: 80, B: 40, A: 255})
	writePhoto(t, filepath.Join(villaA, "b.png"), 300, 200, color.NRGBA{R: 20, G: 160, B: 90, A: 255})
	writePhoto(t, filepath.Join(villaA, "raw", "c.jpg"), 100, 100, color.Black)
	writePhoto(t, filepath.Join(villaB, "terrace.JPG"), 900, 1400, color.NRGBA{R: 40, G: 90, B: 220, A: 255})
	require.NoError(t, os.WriteFile(filepath.Join(villaA, "notes.txt"), []byte("not a photo"), 0o644))

	v := viper.New()
	config.SetDefaults(v)
	v.Set("optimizer.directories", []string{villaA, villaB, filepath.Join(root, "public", "gone")})
	v.Set("server.host", "127.0.0.1")
	v.Set("server.port", port)
	v.Set("server.root", root)
	v.Set("watch.debounce", "100ms")

	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	return root, cfg
}

func baseURL(cfg *config.Config) string {
	return fmt.Sprintf("http://%s", cfg.Server.Addr())
}
