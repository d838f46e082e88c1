package transport

// LocalNetworkChannel is the Wi-Fi link to the local network. Its quality is
// drawn from [60,95] and must exceed 70 to connect.
type LocalNetworkChannel struct {
	*link
}

// NewLocalNetworkChannel creates a disconnected local-network channel
func NewLocalNetworkChannel(src Source, opts Options) *LocalNetworkChannel {
	return &LocalNetworkChannel{
		link: newLink(linkProfile{
			name:       LocalNetworkName,
			threshold:  70,
			minQuality: 60,
			maxQuality: 95,
		}, src, opts),
	}
}
