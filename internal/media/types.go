// Package media defines shared types for the embedwrap pipeline.
package media

// Kind is the semantic media kind of a link URL.
type Kind int

const (
	Generic Kind = iota
	DirectVideoFile
	KnownVideoPlatform
	LocalCrossReference
)

func (k Kind) String() string {
	switch k {
	case Generic:
		return "generic"
	case DirectVideoFile:
		return "video-file"
	case KnownVideoPlatform:
		return "video-platform"
	case LocalCrossReference:
		return "local-topic"
	default:
		return "unknown"
	}
}

// Provider identifies a video platform with dedicated embed construction.
type Provider int

const (
	ProviderNone Provider = iota
	ProviderYouTube
	ProviderVimeo
	ProviderOther // Hosted media and CDN hints, played natively
)

func (p Provider) String() string {
	switch p {
	case ProviderNone:
		return ""
	case ProviderYouTube:
		return "youtube"
	case ProviderVimeo:
		return "vimeo"
	case ProviderOther:
		return "other"
	default:
		return "unknown"
	}
}

// Classification is the result of classifying one link URL.
type Classification struct {
	Kind     Kind
	Provider Provider // Set only for KnownVideoPlatform
	ID       string   // Video ID or numeric topic ID; empty when not extractable
	Rule     string   // Name of the rule that matched, e.g. "youtube"
	URL      string   // The classified URL as given
}

// FragmentKind distinguishes the replacement markup variants.
type FragmentKind int

const (
	NativeVideo FragmentKind = iota
	PlatformEmbed
	PreviewCard
)

func (f FragmentKind) String() string {
	switch f {
	case NativeVideo:
		return "video"
	case PlatformEmbed:
		return "embed"
	case PreviewCard:
		return "card"
	default:
		return "unknown"
	}
}

// Fragment is the replacement markup for a single link.
type Fragment struct {
	Kind   FragmentKind
	HTML   string // Serialised markup, already escaped/sanitised
	Source string // URL the fragment was built from
}
