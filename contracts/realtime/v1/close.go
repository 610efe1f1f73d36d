package v1

// Close codes in the application range (4000-4999) mirror the HTTP status the
// issuer would answer with.
const (
	CloseMissingToken     = 4401
	CloseInvalidToken     = 4403
	CloseAlreadyConnected = 4409
)

// Close reasons. Clients match on the prefix "Authentication failed".
const (
	ReasonMissingToken     = "Authentication failed: Missing token"
	ReasonInvalidToken     = "Authentication failed: Invalid credentials"
	ReasonVerifierError    = "Authentication failed: Server error"
	ReasonAlreadyConnected = "Authentication failed: Already connected"
	ReasonShuttingDown     = "server shutting down"
	ReasonRateLimited      = "rate limited"
)
