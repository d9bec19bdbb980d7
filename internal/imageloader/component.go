package imageloader

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// Component renders the current state of the loader as markup. Before the
// target is resolved only the wrapper and placeholder are emitted; the data
// attributes let the client script take over visibility and fallback.
func (l *Loader) Component() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return l.render(w)
	})
}

const (
	placeholderClass = "absolute inset-0 bg-cover bg-center blur-sm scale-105"
	imageClass       = "w-full h-full object-cover transition-opacity duration-300"
	spinnerClass     = "absolute inset-0 flex items-center justify-center"
	spinnerInner     = "w-8 h-8 border-3 border-gray-200 border-t-primary rounded-full animate-spin"
)

func (l *Loader) render(w io.Writer) error {
	p := l.props
	st := l.State()

	var b strings.Builder
	class := strings.TrimSpace("relative overflow-hidden " + p.ClassName)
	fmt.Fprintf(&b, `<div id="%s" class="%s" style="%s" data-src="%s" data-alt="%s" data-optimized-src="%s" data-priority="%t">`,
		attr(l.id),
		attr(class),
		attr(fmt.Sprintf("width: %s; height: %s; background-color: %s", cssValue(p.Width), cssValue(p.Height), cssValue(p.PlaceholderColor))),
		attr(p.Src),
		attr(p.Alt),
		attr(OptimizedSrc(p.Src, l.rt.Codecs.SupportsWebP())),
		p.Priority,
	)

	opacity := "0.8"
	if st.IsLoaded {
		opacity = "0"
	}
	fmt.Fprintf(&b, `<div class="%s" data-placeholder style="%s"></div>`,
		placeholderClass,
		attr(fmt.Sprintf("background-image: url('%s'); opacity: %s; transition: opacity 0.3s ease", cssURL(PlaceholderSrc(p.Src)), opacity)),
	)

	if st.ImgSrc != "" {
		loading, fetchPriority := p.Loading, "auto"
		if p.Priority {
			loading, fetchPriority = "eager", "high"
		}
		visibility := "opacity-0"
		if st.IsLoaded {
			visibility = "opacity-100"
		}
		fmt.Fprintf(&b, `<img src="%s" data-fallback-src="%s" alt="%s" loading="%s" fetchpriority="%s" class="%s %s">`,
			attr(st.ElementSrc),
			attr(st.ImgSrc),
			attr(p.Alt),
			attr(loading),
			fetchPriority,
			imageClass,
			visibility,
		)
	}

	if st.ShowSpinner(p.Priority) {
		fmt.Fprintf(&b, `<div class="%s" data-spinner><div class="%s"></div></div>`, spinnerClass, spinnerInner)
	}

	b.WriteString(`</div>`)
	_, err := io.WriteString(w, b.String())
	return err
}

func attr(s string) string {
	return templ.EscapeString(s)
}

// cssValue drops characters that would end the declaration.
func cssValue(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ';', '{', '}', '<', '>', '"', '\'', '\\':
			return -1
		}
		return r
	}, s)
}

// cssURL escapes a URL for use inside url('...').
func cssURL(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", "", "\r", "", ")", `\)`, "(", `\(`)
	return r.Replace(s)
}
