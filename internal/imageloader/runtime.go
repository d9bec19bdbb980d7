package imageloader

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/villaretreat/imagepipe/internal/logging"
)

// VisibilityThreshold is the share of the element that must be on screen
// before a deferred image starts loading.
const VisibilityThreshold = 0.1

// IntersectionEntry is one visibility notification for an element.
type IntersectionEntry struct {
	IsIntersecting bool
	Ratio          float64
}

// Watch is a live visibility subscription.
type Watch interface {
	Disconnect()
}

// VisibilityObserver starts watching an element. The callback may run
// synchronously from Observe or later from any goroutine.
type VisibilityObserver interface {
	Observe(elementID string, threshold float64, callback func([]IntersectionEntry)) Watch
}

// CodecProbe reports which image formats the client can decode.
type CodecProbe interface {
	SupportsWebP() bool
}

// StaticProbe is a fixed answer, handy for tests and static renders.
type StaticProbe bool

func (p StaticProbe) SupportsWebP() bool { return bool(p) }

// AcceptProbe reads an HTTP Accept header. Browsers that decode WebP
// advertise image/webp when fetching documents and images.
type AcceptProbe struct {
	Accept string
}

// ProbeRequest builds an AcceptProbe from r.
func ProbeRequest(r *http.Request) AcceptProbe {
	return AcceptProbe{Accept: r.Header.Get("Accept")}
}

func (p AcceptProbe) SupportsWebP() bool {
	for _, part := range strings.Split(p.Accept, ",") {
		fields := strings.Split(part, ";")
		if !strings.EqualFold(strings.TrimSpace(fields[0]), "image/webp") {
			continue
		}
		for _, param := range fields[1:] {
			k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
			if ok && strings.EqualFold(k, "q") {
				q, err := strconv.ParseFloat(v, 64)
				return err == nil && q > 0
			}
		}
		return true
	}
	return false
}

// Runtime is the host the loader runs in. A nil Observer means the
// visibility capability is missing and images load immediately.
type Runtime struct {
	Observer VisibilityObserver
	Codecs   CodecProbe
	Logger   logging.Logger
}
