package contracts

// PolarityIntent classifies the audience stance a campaign targets.
type PolarityIntent string

const (
	PolarityAllies    PolarityIntent = "allies"
	PolarityCritics   PolarityIntent = "critics"
	PolarityWatchlist PolarityIntent = "watchlist"
)

// DesiredPolarity maps an intent to its target polarity score in [-10, +10].
func (p PolarityIntent) DesiredPolarity() int {
	switch p {
	case PolarityAllies:
		return 10
	case PolarityCritics:
		return -10
	case PolarityWatchlist:
		return 0
	default:
		return 10
	}
}

// CommercialMode is the commercial interaction mode for a campaign.
type CommercialMode string

const (
	CommercialEarned  CommercialMode = "earned"
	CommercialPaid    CommercialMode = "paid"
	CommercialHybrid  CommercialMode = "hybrid"
	CommercialUnknown CommercialMode = "unknown"
)

// CacheStatus summarizes how much of the desired fleet was satisfied
// from already-known candidates.
type CacheStatus string

const (
	CacheHit   CacheStatus = "cache_hit"
	PartialHit CacheStatus = "partial_hit"
	CacheMiss  CacheStatus = "cache_miss"
)

// PulseStatus is the outcome of a freshness check.
type PulseStatus string

const (
	PulsePass         PulseStatus = "pass"
	PulseFail         PulseStatus = "fail"
	PulseInconclusive PulseStatus = "inconclusive"
)

// NodeName identifies a node in the orchestration graph.
type NodeName string

const (
	NodeA NodeName = "A"
	NodeB NodeName = "B"
	NodeC NodeName = "C"
	NodeD NodeName = "D"
	NodeE NodeName = "E"
	NodeF NodeName = "F"
	NodeG NodeName = "G"
)

// Valid reports whether the node name is one of A..G.
func (n NodeName) Valid() bool {
	switch n {
	case NodeA, NodeB, NodeC, NodeD, NodeE, NodeF, NodeG:
		return true
	}
	return false
}

// ReceiptType is the kind of evidence a receipt carries.
type ReceiptType string

const (
	ReceiptSocial  ReceiptType = "social"
	ReceiptCreator ReceiptType = "creator"
	ReceiptThread  ReceiptType = "thread"
	ReceiptAudio   ReceiptType = "audio"
)

// Platform identifiers (MVP, policy-safe).
type Platform string

const (
	PlatformX          Platform = "x"
	PlatformBluesky    Platform = "bluesky"
	PlatformSubstack   Platform = "substack"
	PlatformBlog       Platform = "blog"
	PlatformNewsletter Platform = "newsletter"
	PlatformPodcast    Platform = "podcast"
	PlatformYouTube    Platform = "youtube"
	PlatformReddit     Platform = "reddit"
	PlatformOther      Platform = "other"
)
