// Package imageloader renders villa photos progressively.
//
// A Loader holds the render state of one image instance. It decides when
// the image may be fetched (immediately for priority images, otherwise once
// a visibility watch reports the element on screen), which URL to try first
// (the optimized artifact written by the optimizer), and how to recover when
// that URL fails (one switch back to the original).
package imageloader

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/villaretreat/imagepipe/internal/logging"
)

// Props are the inputs of one image instance.
type Props struct {
	Src              string
	Alt              string
	ClassName        string
	Width            string
	Height           string
	PlaceholderColor string
	Priority         bool
	Loading          string
	OnError          func(ErrorEvent)
}

// Defaults used when a prop is left empty.
const (
	DefaultWidth            = "100%"
	DefaultHeight           = "auto"
	DefaultPlaceholderColor = "#f3f4f6"
	DefaultLoading          = "lazy"
)

func (p Props) withDefaults() Props {
	if p.Width == "" {
		p.Width = DefaultWidth
	}
	if p.Height == "" {
		p.Height = DefaultHeight
	}
	if p.PlaceholderColor == "" {
		p.PlaceholderColor = DefaultPlaceholderColor
	}
	if p.Loading == "" {
		p.Loading = DefaultLoading
	}
	return p
}

// Phase is the visible stage of an instance.
type Phase string

const (
	PhasePlaceholder Phase = "placeholder"
	PhaseLoading     Phase = "loading"
	PhaseLoaded      Phase = "loaded"
)

// ErrorEvent describes a failed load of the main image element.
type ErrorEvent struct {
	ElementID string
	// FailedSrc is the URL that did not load.
	FailedSrc string
	// FallbackSrc is the URL the element was switched to.
	FallbackSrc string
}

// State is a snapshot of a Loader.
type State struct {
	IsLoaded bool
	// ImgSrc is the resolved target source, empty until visible or priority.
	ImgSrc string
	// ElementSrc is what the main image element currently requests.
	ElementSrc string
	Phase      Phase
	FellBack   bool
	Watching   bool
}

// ShowSpinner reports whether the loading indicator is visible.
func (s State) ShowSpinner(priority bool) bool {
	return !priority && s.ImgSrc != "" && !s.IsLoaded
}

// Loader is the state machine of one rendered image.
type Loader struct {
	props  Props
	rt     Runtime
	id     string
	logger logging.Logger

	mu         sync.Mutex
	mounted    bool
	unmounted  bool
	triggered  bool
	watch      Watch
	isLoaded   bool
	imgSrc     string
	elementSrc string
	fellBack   bool
}

// New prepares an instance; nothing is requested until Mount.
func New(props Props, rt Runtime) *Loader {
	if rt.Codecs == nil {
		rt.Codecs = StaticProbe(false)
	}
	logger := rt.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}
	props = props.withDefaults()
	return &Loader{
		props:  props,
		rt:     rt,
		id:     "image-" + slugify(props.Alt) + "-" + uuid.NewString()[:8],
		logger: logger.WithComponent("imageloader"),
	}
}

// ElementID is unique per instance even when alt texts repeat.
func (l *Loader) ElementID() string { return l.id }

// Props returns the props with defaults applied.
func (l *Loader) Props() Props { return l.props }

// Mount resolves the target immediately for priority images or when no
// observer exists; otherwise it starts the single visibility watch.
func (l *Loader) Mount() {
	l.mu.Lock()
	if l.mounted {
		l.mu.Unlock()
		return
	}
	l.mounted = true

	if l.props.Priority || l.rt.Observer == nil {
		l.setTargetLocked(l.props.Src)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	w := l.rt.Observer.Observe(l.id, VisibilityThreshold, l.onIntersect)

	l.mu.Lock()
	release := l.triggered || l.unmounted
	if !release {
		l.watch = w
	}
	l.mu.Unlock()

	// the callback fired during Observe or Unmount raced us
	if release && w != nil {
		w.Disconnect()
	}
}

func (l *Loader) onIntersect(entries []IntersectionEntry) {
	l.mu.Lock()
	if l.triggered || l.unmounted {
		l.mu.Unlock()
		return
	}
	visible := false
	for _, e := range entries {
		if e.IsIntersecting && e.Ratio >= VisibilityThreshold {
			visible = true
			break
		}
	}
	if !visible {
		l.mu.Unlock()
		return
	}
	l.triggered = true
	l.setTargetLocked(l.props.Src)
	w := l.watch
	l.watch = nil
	l.mu.Unlock()

	if w != nil {
		w.Disconnect()
	}
}

func (l *Loader) setTargetLocked(src string) {
	if l.imgSrc != "" || src == "" {
		return
	}
	l.imgSrc = src
	l.elementSrc = OptimizedSrc(src, l.rt.Codecs.SupportsWebP())
	if l.elementSrc == "" {
		l.elementSrc = src
	}
}

// Unmount releases the visibility watch if it is still live. Later
// callbacks are ignored.
func (l *Loader) Unmount() {
	l.mu.Lock()
	l.unmounted = true
	w := l.watch
	l.watch = nil
	l.mu.Unlock()

	if w != nil {
		w.Disconnect()
	}
}

// HandleLoad records a successful load of the main image. Loaded is final.
func (l *Loader) HandleLoad() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.elementSrc == "" || l.unmounted {
		return
	}
	l.isLoaded = true
}

// HandleError reacts to a failed load of the main image. The first failure
// switches the element back to the original source and notifies OnError;
// a failure of that fallback is left to the browser's broken-image state.
func (l *Loader) HandleError() {
	l.mu.Lock()
	if l.elementSrc == "" || l.fellBack || l.unmounted {
		l.mu.Unlock()
		return
	}
	ev := ErrorEvent{
		ElementID:   l.id,
		FailedSrc:   l.elementSrc,
		FallbackSrc: l.imgSrc,
	}
	l.elementSrc = l.imgSrc
	l.fellBack = true
	onError := l.props.OnError
	l.mu.Unlock()

	l.logger.Warn(context.Background(), nil, "Failed to load optimized image",
		"src", ev.FailedSrc,
		"fallback", ev.FallbackSrc,
	)
	if onError != nil {
		onError(ev)
	}
}

// State returns a snapshot.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	phase := PhasePlaceholder
	switch {
	case l.isLoaded:
		phase = PhaseLoaded
	case l.imgSrc != "":
		phase = PhaseLoading
	}
	return State{
		IsLoaded:   l.isLoaded,
		ImgSrc:     l.imgSrc,
		ElementSrc: l.elementSrc,
		Phase:      phase,
		FellBack:   l.fellBack,
		Watching:   l.watch != nil,
	}
}
