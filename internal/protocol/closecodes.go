package protocol

// WebSocket close codes used by the host and reference client, per §6/§7.
const (
	ClosePolicyViolation = 1008
	CloseNormal          = 1000
	CloseInternalError   = 1011
	CloseInvalidSecret   = 4001
	CloseInvalidHello    = 4002
)

// Reasons are the literal close reason strings the host sends alongside the
// codes above; clients should not parse these for control flow (the code is
// authoritative) but the reference client logs them.
const (
	ReasonAuthTimeout       = "Authentication timeout"
	ReasonInvalidSecretText = "Invalid secret"
	ReasonInvalidRole       = "Invalid role"
	ReasonAuthRequired      = "Authentication required"
	ReasonInvalidAuth       = "invalid auth"
	ReasonInvalidHelloText  = "invalid hello"
)
