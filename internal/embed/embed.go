// Package embed builds replacement markup for classified links: native
// <video> players and YouTube/Vimeo iframes.
package embed

import (
	"fmt"
	"html"
	"net/url"
	"path"
	"strings"

	"embedwrap/internal/classify"
	"embedwrap/internal/media"
)

const (
	// MarkerClass marks every container produced by the pipeline. Links at or
	// below an element carrying it are never processed again.
	MarkerClass = "rehydrated-media"

	// ErrorEvent is dispatched (bubbling) from a video element that fails to
	// load, with the source URL in event.detail.src.
	ErrorEvent = "embedwrap:media-error"

	frameWidth  = 560
	frameHeight = 315
	frameAllow  = "autoplay; fullscreen; picture-in-picture"
)

// VideoPlayer returns a controls-enabled, metadata-preloading video element
// for rawURL.
func VideoPlayer(rawURL string) media.Fragment {
	src := html.EscapeString(rawURL)
	label := html.EscapeString("Video: " + lastSegment(rawURL))

	onerror := fmt.Sprintf(
		"this.dispatchEvent(new CustomEvent('%s',{bubbles:true,detail:{src:this.currentSrc||this.src}}))",
		ErrorEvent)

	markup := fmt.Sprintf(
		`<video src="%s" controls preload="metadata" aria-label="%s" onerror="%s" style="max-width:100%%;border-radius:8px;display:block;margin:1em auto"></video>`,
		src, label, html.EscapeString(onerror))

	return media.Fragment{Kind: media.NativeVideo, HTML: markup, Source: rawURL}
}

// YouTube returns an iframe embed for a YouTube watch or short link.
// ok is false when no video ID can be extracted.
func YouTube(rawURL string) (frag media.Fragment, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return media.Fragment{}, false
	}
	id := classify.YouTubeID(u)
	if id == "" {
		return media.Fragment{}, false
	}
	return iframe(rawURL, "https://www.youtube.com/embed/"+url.PathEscape(id), "YouTube video"), true
}

// Vimeo returns an iframe embed for a Vimeo video URL.
// ok is false when the URL carries no numeric video ID.
func Vimeo(rawURL string) (frag media.Fragment, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return media.Fragment{}, false
	}
	id := classify.VimeoID(u)
	if id == "" {
		return media.Fragment{}, false
	}
	return iframe(rawURL, "https://player.vimeo.com/video/"+id, "Vimeo video"), true
}

func iframe(source, embedURL, title string) media.Fragment {
	markup := fmt.Sprintf(
		`<iframe src="%s" width="%d" height="%d" title="%s" frameborder="0" allow="%s" allowfullscreen loading="lazy" style="max-width:100%%;aspect-ratio:%d/%d;height:auto"></iframe>`,
		html.EscapeString(embedURL), frameWidth, frameHeight, html.EscapeString(title),
		frameAllow, frameWidth, frameHeight)
	return media.Fragment{Kind: media.PlatformEmbed, HTML: markup, Source: source}
}

// Wrap puts a video or platform fragment into the processed container.
// Preview cards are returned unchanged: they carry their own container.
func Wrap(f media.Fragment) string {
	switch f.Kind {
	case media.NativeVideo:
		return `<div class="` + MarkerClass + ` video-wrapper">` + f.HTML + `</div>`
	case media.PlatformEmbed:
		return `<div class="` + MarkerClass + ` embed-wrapper">` + f.HTML + `</div>`
	default:
		return f.HTML
	}
}

// lastSegment returns the final path segment of rawURL, falling back to the
// raw string when it cannot be parsed.
func lastSegment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		s := strings.TrimRight(rawURL, "/")
		if i := strings.LastIndex(s, "/"); i != -1 {
			return s[i+1:]
		}
		return s
	}
	return path.Base(u.Path)
}
