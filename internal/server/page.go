package server

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"

	"github.com/villaretreat/imagepipe/internal/imageloader"
	"github.com/villaretreat/imagepipe/internal/logging"
)

// clientObserver defers visibility to the browser script. The server
// never reports an intersection, so deferred images render as
// placeholders and the script loads them once they scroll into view.
type clientObserver struct{}

type noopWatch struct{}

func (noopWatch) Disconnect() {}

func (clientObserver) Observe(string, float64, func([]imageloader.IntersectionEntry)) imageloader.Watch {
	return noopWatch{}
}

// GalleryPage renders every gallery through image loaders. The first
// image of the page is a priority image.
func GalleryPage(galleries []Gallery, codecs imageloader.CodecProbe, logger logging.Logger) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		rt := imageloader.Runtime{Observer: clientObserver{}, Codecs: codecs, Logger: logger}

		if _, err := io.WriteString(w, pageHead); err != nil {
			return err
		}
		if len(galleries) == 0 {
			if _, err := io.WriteString(w, `<p class="empty">No galleries found.</p>`); err != nil {
				return err
			}
		}

		first := true
		for _, g := range galleries {
			if _, err := fmt.Fprintf(w, `<section class="gallery"><h2>%s</h2><p class="count">%d photos</p><div class="grid">`,
				templ.EscapeString(g.Title), len(g.Images)); err != nil {
				return err
			}
			for _, img := range g.Images {
				l := imageloader.New(imageloader.Props{
					Src:       img.Src,
					Alt:       img.Alt,
					ClassName: "rounded-lg",
					Height:    "240px",
					Priority:  first,
				}, rt)
				first = false
				l.Mount()
				if err := l.Component().Render(ctx, w); err != nil {
					return err
				}
				l.Unmount()
			}
			if _, err := io.WriteString(w, `</div></section>`); err != nil {
				return err
			}
		}

		_, err := io.WriteString(w, pageTail)
		return err
	})
}

const pageHead = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>Villa galleries</title>
    <style>
        body { font-family: system-ui, -apple-system, sans-serif; margin: 0; padding: 20px; background: #f5f5f5; }
        .gallery { max-width: 1200px; margin: 0 auto 32px; background: white; padding: 20px; border-radius: 8px; }
        .grid { display: grid; grid-template-columns: repeat(auto-fill, minmax(280px, 1fr)); gap: 16px; }
        .count { color: #666; font-size: 12px; }
        .relative { position: relative; } .overflow-hidden { overflow: hidden; } .rounded-lg { border-radius: 8px; }
        .absolute { position: absolute; } .inset-0 { top: 0; right: 0; bottom: 0; left: 0; }
        .bg-cover { background-size: cover; } .bg-center { background-position: center; }
        .blur-sm { filter: blur(4px); } .scale-105 { transform: scale(1.05); }
        .w-full { width: 100%; } .h-full { height: 100%; } .object-cover { object-fit: cover; }
        .transition-opacity { transition: opacity 0.3s; } .opacity-0 { opacity: 0; } .opacity-100 { opacity: 1; }
        .flex { display: flex; } .items-center { align-items: center; } .justify-center { justify-content: center; }
        .animate-spin { width: 32px; height: 32px; border: 3px solid #e5e7eb; border-top-color: #0ea5e9; border-radius: 50%; animation: spin 1s linear infinite; }
        @keyframes spin { to { transform: rotate(360deg); } }
    </style>
</head>
<body>
<h1>Villa galleries</h1>
`

const pageTail = `
<script>
(function () {
    function placeholder(wrapper) { return wrapper.querySelector('[data-placeholder]'); }

    function wire(wrapper, img) {
        img.addEventListener('load', function () {
            img.classList.replace('opacity-0', 'opacity-100');
            var p = placeholder(wrapper);
            if (p) { p.style.opacity = '0'; }
            var s = wrapper.querySelector('[data-spinner]');
            if (s) { s.remove(); }
        });
        img.addEventListener('error', function () {
            var fallback = img.dataset.fallbackSrc;
            if (img.dataset.fellBack || !fallback || img.getAttribute('src') === fallback) { return; }
            img.dataset.fellBack = 'true';
            console.warn('Failed to load optimized image:', img.getAttribute('src'));
            img.src = fallback;
        });
        if (img.complete && img.naturalWidth > 0) { img.dispatchEvent(new Event('load')); }
    }

    function start(wrapper) {
        var img = document.createElement('img');
        img.alt = wrapper.dataset.alt || '';
        img.loading = 'lazy';
        img.dataset.fallbackSrc = wrapper.dataset.src;
        img.className = 'w-full h-full object-cover transition-opacity duration-300 opacity-0';
        var spinner = document.createElement('div');
        spinner.className = 'absolute inset-0 flex items-center justify-center';
        spinner.setAttribute('data-spinner', '');
        spinner.innerHTML = '<div class="animate-spin"></div>';
        wrapper.appendChild(img);
        wrapper.appendChild(spinner);
        wire(wrapper, img);
        img.src = wrapper.dataset.optimizedSrc || wrapper.dataset.src;
    }

    document.querySelectorAll('[data-optimized-src] img').forEach(function (img) {
        wire(img.parentElement, img);
    });

    var pending = document.querySelectorAll('[data-optimized-src]:not(:has(img))');
    if (!('IntersectionObserver' in window)) {
        pending.forEach(start);
    } else {
        pending.forEach(function (wrapper) {
            var observer = new IntersectionObserver(function (entries) {
                entries.forEach(function (entry) {
                    if (entry.isIntersecting && entry.intersectionRatio >= 0.1) {
                        observer.disconnect();
                        start(wrapper);
                    }
                });
            }, { threshold: 0.1 });
            observer.observe(wrapper);
        });
    }

    var proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
    function connect() {
        var ws = new WebSocket(proto + location.host + '/ws');
        ws.onmessage = function (msg) {
            try {
                if (JSON.parse(msg.data).type === 'reload') { location.reload(); }
            } catch (e) {}
        };
        ws.onclose = function () { setTimeout(connect, 2000); };
    }
    connect();
})();
</script>
</body>
</html>
`
