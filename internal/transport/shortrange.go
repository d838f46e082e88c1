package transport

// ShortRangeChannel is the low-power link to a nearby gateway. Its signal
// strength is drawn from [30,90] and must exceed 50 to connect.
type ShortRangeChannel struct {
	*link
}

// NewShortRangeChannel creates a disconnected short-range channel
func NewShortRangeChannel(src Source, opts Options) *ShortRangeChannel {
	return &ShortRangeChannel{
		link: newLink(linkProfile{
			name:       ShortRangeName,
			threshold:  50,
			minQuality: 30,
			maxQuality: 90,
		}, src, opts),
	}
}
