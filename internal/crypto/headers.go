package crypto

// Request headers that carry a signed WishCall.
const (
	HeaderCaller    = "X-Wish-Caller"
	HeaderTimestamp = "X-Wish-Timestamp"
	HeaderNonce     = "X-Wish-Nonce"
	HeaderSignature = "X-Wish-Signature"
)
