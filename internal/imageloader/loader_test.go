package imageloader

import (
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villaretreat/imagepipe/internal/logging"
)

// fakeObserver records watches and lets tests fire intersection events.
type fakeObserver struct {
	mu      sync.Mutex
	watches []*fakeWatch
	// fireOnObserve delivers these entries synchronously from Observe.
	fireOnObserve []IntersectionEntry
}

type fakeWatch struct {
	elementID    string
	threshold    float64
	callback     func([]IntersectionEntry)
	mu           sync.Mutex
	disconnected int
}

func (w *fakeWatch) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disconnected++
}

func (w *fakeWatch) Disconnected() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.disconnected
}

// fire ignores disconnect on purpose so late deliveries can be simulated.
func (w *fakeWatch) fire(entries ...IntersectionEntry) {
	w.callback(entries)
}

func (o *fakeObserver) Observe(elementID string, threshold float64, cb func([]IntersectionEntry)) Watch {
	w := &fakeWatch{elementID: elementID, threshold: threshold, callback: cb}
	o.mu.Lock()
	o.watches = append(o.watches, w)
	fire := o.fireOnObserve
	o.mu.Unlock()
	if len(fire) > 0 {
		cb(fire)
	}
	return w
}

func (o *fakeObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.watches)
}

func visible(ratio float64) IntersectionEntry {
	return IntersectionEntry{IsIntersecting: true, Ratio: ratio}
}

func TestPropsDefaults(t *testing.T) {
	l := New(Props{Src: "/v/a.jpg", Alt: "Pool"}, Runtime{})
	p := l.Props()
	assert.Equal(t, "", p.ClassName)
	assert.Equal(t, "100%", p.Width)
	assert.Equal(t, "auto", p.Height)
	assert.Equal(t, "#f3f4f6", p.PlaceholderColor)
	assert.False(t, p.Priority)
	assert.Equal(t, "lazy", p.Loading)
}

func TestPriorityLoadsWithoutWatch(t *testing.T) {
	obs := &fakeObserver{}
	l := New(Props{Src: "/villa/room.jpg", Alt: "Room", Priority: true}, Runtime{Observer: obs, Codecs: StaticProbe(true)})

	l.Mount()

	st := l.State()
	assert.Equal(t, "/villa/room.jpg", st.ImgSrc)
	assert.Equal(t, "/villa/optimized/room.webp", st.ElementSrc)
	assert.Equal(t, PhaseLoading, st.Phase)
	assert.Zero(t, obs.count(), "priority images never create a watch")
	assert.False(t, st.ShowSpinner(true))
}

func TestDeferredWaitsForVisibility(t *testing.T) {
	obs := &fakeObserver{}
	l := New(Props{Src: "/villa/room.jpg", Alt: "Room"}, Runtime{Observer: obs, Codecs: StaticProbe(true)})

	l.Mount()
	require.Equal(t, 1, obs.count())
	w := obs.watches[0]
	assert.Equal(t, l.ElementID(), w.elementID)
	assert.Equal(t, 0.1, w.threshold)

	st := l.State()
	assert.Empty(t, st.ImgSrc, "nothing requested while off screen")
	assert.Equal(t, PhasePlaceholder, st.Phase)
	assert.True(t, st.Watching)

	// below threshold and not intersecting: still waiting
	w.fire(IntersectionEntry{IsIntersecting: false, Ratio: 0})
	w.fire(visible(0.05))
	assert.Empty(t, l.State().ImgSrc)
	assert.Zero(t, w.Disconnected())

	w.fire(visible(0.1))
	st = l.State()
	assert.Equal(t, "/villa/room.jpg", st.ImgSrc)
	assert.Equal(t, "/villa/optimized/room.webp", st.ElementSrc)
	assert.Equal(t, 1, w.Disconnected())
	assert.False(t, st.Watching)
	assert.True(t, st.ShowSpinner(false))

	// a second event after the one-shot trigger changes nothing
	w.fire(visible(1))
	assert.Equal(t, st, l.State())
	assert.Equal(t, 1, w.Disconnected())
}

func TestMountIsIdempotent(t *testing.T) {
	obs := &fakeObserver{}
	l := New(Props{Src: "/v/a.jpg", Alt: "A"}, Runtime{Observer: obs})
	l.Mount()
	l.Mount()
	assert.Equal(t, 1, obs.count())
}

func TestVisibleDuringObserve(t *testing.T) {
	obs := &fakeObserver{fireOnObserve: []IntersectionEntry{visible(0.5)}}
	l := New(Props{Src: "/v/a.png", Alt: "A"}, Runtime{Observer: obs, Codecs: StaticProbe(false)})

	l.Mount()

	st := l.State()
	assert.Equal(t, "/v/a.png", st.ImgSrc)
	assert.Equal(t, "/v/optimized/a.png", st.ElementSrc)
	require.Equal(t, 1, obs.count())
	assert.Equal(t, 1, obs.watches[0].Disconnected())
	assert.False(t, st.Watching)
}

func TestNoObserverLoadsImmediately(t *testing.T) {
	l := New(Props{Src: "/v/a.jpg", Alt: "A"}, Runtime{Codecs: StaticProbe(true)})
	l.Mount()
	assert.Equal(t, "/v/a.jpg", l.State().ImgSrc)
	assert.Equal(t, "/v/optimized/a.webp", l.State().ElementSrc)
}

func TestUnmountDisconnectsPendingWatch(t *testing.T) {
	obs := &fakeObserver{}
	l := New(Props{Src: "/v/a.jpg", Alt: "A"}, Runtime{Observer: obs})
	l.Mount()
	w := obs.watches[0]

	l.Unmount()
	assert.Equal(t, 1, w.Disconnected())

	// late delivery after unmount must not update state
	w.fire(visible(1))
	assert.Empty(t, l.State().ImgSrc)

	l.Unmount()
	assert.Equal(t, 1, w.Disconnected(), "released exactly once")
}

func TestUnmountAfterTriggerDoesNotDisconnectTwice(t *testing.T) {
	obs := &fakeObserver{}
	l := New(Props{Src: "/v/a.jpg", Alt: "A"}, Runtime{Observer: obs})
	l.Mount()
	w := obs.watches[0]
	w.fire(visible(0.2))
	l.Unmount()
	assert.Equal(t, 1, w.Disconnected())
}

func TestLoadedIsOneWay(t *testing.T) {
	l := New(Props{Src: "/v/a.jpg", Alt: "A", Priority: true}, Runtime{Codecs: StaticProbe(true)})

	l.HandleLoad()
	assert.False(t, l.State().IsLoaded, "no element yet")

	l.Mount()
	l.HandleLoad()
	st := l.State()
	assert.True(t, st.IsLoaded)
	assert.Equal(t, PhaseLoaded, st.Phase)
	assert.False(t, st.ShowSpinner(false))

	l.HandleError()
	assert.True(t, l.State().IsLoaded)
}

func TestErrorFallsBackOnce(t *testing.T) {
	logger := logging.NewRecordingLogger()
	var events []ErrorEvent
	l := New(Props{
		Src:      "/villa/room.jpg",
		Alt:      "Room",
		Priority: true,
		OnError:  func(ev ErrorEvent) { events = append(events, ev) },
	}, Runtime{Codecs: StaticProbe(true), Logger: logger})
	l.Mount()

	l.HandleError()
	st := l.State()
	assert.Equal(t, "/villa/room.jpg", st.ElementSrc)
	assert.True(t, st.FellBack)
	require.Len(t, events, 1)
	assert.Equal(t, "/villa/optimized/room.webp", events[0].FailedSrc)
	assert.Equal(t, "/villa/room.jpg", events[0].FallbackSrc)
	assert.Equal(t, l.ElementID(), events[0].ElementID)

	// the fallback failing too is not retried and not reported again
	l.HandleError()
	assert.Len(t, events, 1)
	assert.Equal(t, "/villa/room.jpg", l.State().ElementSrc)
	assert.Equal(t, []string{"Failed to load optimized image"}, logger.Messages(logging.LevelWarn))
}

func TestErrorWithoutCallback(t *testing.T) {
	l := New(Props{Src: "/v/a.jpg", Alt: "A", Priority: true}, Runtime{})
	l.Mount()
	assert.NotPanics(t, l.HandleError)
	assert.Equal(t, "/v/a.jpg", l.State().ElementSrc)
}

func TestErrorBeforeTargetIgnored(t *testing.T) {
	called := false
	l := New(Props{Src: "/v/a.jpg", Alt: "A", OnError: func(ErrorEvent) { called = true }}, Runtime{Observer: &fakeObserver{}})
	l.Mount()
	l.HandleError()
	assert.False(t, called)
}

func TestElementIDsUniqueForSameAlt(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := New(Props{Src: "/v/a.jpg", Alt: "Villa photo"}, Runtime{}).ElementID()
		assert.Contains(t, id, "image-villa-photo-")
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestAcceptProbe(t *testing.T) {
	tests := []struct {
		accept string
		want   bool
	}{
		{"image/avif,image/webp,image/apng,image/*,*/*;q=0.8", true},
		{"text/html,application/xhtml+xml,image/webp;q=0.9", true},
		{"image/WEBP", true},
		{"image/webp;q=0", false},
		{"image/png,image/*;q=0.8", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.accept, func(t *testing.T) {
			assert.Equal(t, tt.want, AcceptProbe{Accept: tt.accept}.SupportsWebP())
		})
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Accept", "image/webp")
	assert.True(t, ProbeRequest(r).SupportsWebP())
}
