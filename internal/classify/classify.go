// Package classify maps link URLs to a semantic media kind.
//
// Classification is a priority-ordered list of rules evaluated in sequence;
// the first rule that matches decides. Unparsable URLs classify as Generic.
package classify

import (
	_ "embed"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"embedwrap/internal/media"
)

//go:embed rules.yaml
var rulesYAML []byte

// videoExtensions are the file extensions played directly by the native player.
var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".webm": true, ".m4v": true,
	".avi": true, ".mkv": true, ".flv": true, ".ogv": true,
}

var (
	// youtubeIDPattern bounds what we accept as a video ID so arbitrary
	// path junk never ends up in an embed URL.
	youtubeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	digitsPattern    = regexp.MustCompile(`^[0-9]+$`)
	topicPathPattern = regexp.MustCompile(`^/t/[^/]+`)
)

// Rule is one entry of the classification table.
type Rule struct {
	Name  string
	Match func(u *url.URL, origin *url.URL) (media.Classification, bool)
}

// Classifier evaluates its rules in order.
type Classifier struct {
	rules []Rule
}

// patternFile is the layout of rules.yaml.
type patternFile struct {
	HostedMedia []struct {
		Name    string `yaml:"name"`
		Pattern string `yaml:"pattern"`
	} `yaml:"hosted_media"`
}

// New builds a classifier from the embedded rule table plus any extra
// hosted-media patterns (Go regular expressions).
func New(extraPatterns []string) (*Classifier, error) {
	var pf patternFile
	if err := yaml.Unmarshal(rulesYAML, &pf); err != nil {
		return nil, fmt.Errorf("parsing embedded rules: %w", err)
	}

	var hosted []Rule
	for _, p := range pf.HostedMedia {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling rule %q: %w", p.Name, err)
		}
		hosted = append(hosted, hostedRule(p.Name, re))
	}
	for i, p := range extraPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling extra media pattern %d: %w", i, err)
		}
		hosted = append(hosted, hostedRule(fmt.Sprintf("extra-%d", i), re))
	}

	rules := []Rule{
		{Name: "local-topic", Match: matchLocalTopic},
		{Name: "youtube", Match: matchYouTube},
		{Name: "vimeo", Match: matchVimeo},
		{Name: "video-file", Match: matchVideoFile},
	}
	rules = append(rules, hosted...)

	return &Classifier{rules: rules}, nil
}

var (
	defaultOnce       sync.Once
	defaultClassifier *Classifier
)

// Default returns the classifier built from the embedded rules only.
func Default() *Classifier {
	defaultOnce.Do(func() {
		c, err := New(nil)
		if err != nil {
			// The embedded table is compiled in; a failure here is a build defect.
			panic(err)
		}
		defaultClassifier = c
	})
	return defaultClassifier
}

// Classify classifies rawURL with the default classifier.
func Classify(rawURL, documentOrigin string) media.Classification {
	return Default().Classify(rawURL, documentOrigin)
}

// Rules returns the rule names in evaluation order.
func (c *Classifier) Rules() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.Name
	}
	return names
}

// Classify returns the classification of rawURL. documentOrigin is the
// origin (or any URL) of the page the link appears on; it is only used to
// recognise local topic links.
func (c *Classifier) Classify(rawURL, documentOrigin string) media.Classification {
	generic := media.Classification{Kind: media.Generic, Rule: "generic", URL: rawURL}

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return generic
	}

	var origin *url.URL
	if documentOrigin != "" {
		if o, err := url.Parse(documentOrigin); err == nil && o.Host != "" {
			origin = o
		}
	}

	for _, r := range c.rules {
		if cl, ok := r.Match(u, origin); ok {
			cl.Rule = r.Name
			cl.URL = rawURL
			return cl
		}
	}
	return generic
}

func matchLocalTopic(u, origin *url.URL) (media.Classification, bool) {
	if origin == nil || u.Host == "" || !strings.EqualFold(u.Host, origin.Host) {
		return media.Classification{}, false
	}
	if !topicPathPattern.MatchString(u.Path) {
		return media.Classification{}, false
	}
	return media.Classification{Kind: media.LocalCrossReference, ID: TopicID(u)}, true
}

func matchYouTube(u, _ *url.URL) (media.Classification, bool) {
	switch strings.ToLower(u.Hostname()) {
	case "youtu.be":
	case "youtube.com", "www.youtube.com", "m.youtube.com":
		if u.Path != "/watch" {
			return media.Classification{}, false
		}
	default:
		return media.Classification{}, false
	}
	return media.Classification{
		Kind:     media.KnownVideoPlatform,
		Provider: media.ProviderYouTube,
		ID:       YouTubeID(u),
	}, true
}

func matchVimeo(u, _ *url.URL) (media.Classification, bool) {
	switch strings.ToLower(u.Hostname()) {
	case "vimeo.com", "www.vimeo.com", "player.vimeo.com":
	default:
		return media.Classification{}, false
	}
	return media.Classification{
		Kind:     media.KnownVideoPlatform,
		Provider: media.ProviderVimeo,
		ID:       VimeoID(u),
	}, true
}

func matchVideoFile(u, _ *url.URL) (media.Classification, bool) {
	if !videoExtensions[strings.ToLower(path.Ext(u.Path))] {
		return media.Classification{}, false
	}
	return media.Classification{Kind: media.DirectVideoFile}, true
}

func hostedRule(name string, re *regexp.Regexp) Rule {
	return Rule{
		Name: name,
		Match: func(u, _ *url.URL) (media.Classification, bool) {
			if !re.MatchString(u.String()) {
				return media.Classification{}, false
			}
			return media.Classification{Kind: media.KnownVideoPlatform, Provider: media.ProviderOther}, true
		},
	}
}

// YouTubeID extracts the video ID from a watch URL (?v=ID) or a youtu.be
// short link. Returns "" when none is present.
func YouTubeID(u *url.URL) string {
	var id string
	switch strings.ToLower(u.Hostname()) {
	case "youtu.be":
		id = firstSegment(u.Path)
	case "youtube.com", "www.youtube.com", "m.youtube.com":
		if u.Path == "/watch" {
			id = u.Query().Get("v")
		}
	}
	if !youtubeIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// VimeoID returns the first all-digit path segment, e.g. "76979871" for
// https://vimeo.com/76979871 or https://player.vimeo.com/video/76979871.
func VimeoID(u *url.URL) string {
	for _, seg := range strings.Split(u.Path, "/") {
		if digitsPattern.MatchString(seg) {
			return seg
		}
	}
	return ""
}

// TopicID returns the numeric topic ID of a /t/... path: the first all-digit
// segment after "t". "/t/some-slug/123/4" -> "123", "/t/123" -> "123".
func TopicID(u *url.URL) string {
	segs := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(segs) < 2 || segs[0] != "t" {
		return ""
	}
	for _, seg := range segs[1:] {
		if digitsPattern.MatchString(seg) {
			return seg
		}
	}
	return ""
}

func firstSegment(p string) string {
	p = strings.TrimPrefix(p, "/")
	if i := strings.Index(p, "/"); i != -1 {
		p = p[:i]
	}
	return p
}
