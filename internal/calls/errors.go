package calls

import "errors"

// Error taxonomy surfaced by every mutating call/conference operation.
// Policy failures are returned before any state mutation or IPC attempt.
var (
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrIllegalCallOperation    = errors.New("operation not permitted in current call state")
	ErrCallNotFound            = errors.New("call not found")
	ErrCallAlreadyExists       = errors.New("call already exists")
	ErrConferenceExceedLimit   = errors.New("conference call limit exceeded")
	ErrCallNotInConference     = errors.New("call not in conference")
	ErrConferenceNotSupported  = errors.New("conference not supported for this call kind")
	ErrOttFunctionNotSupported = errors.New("function not supported for ott calls")
	ErrIPCConnectFailed        = errors.New("cellular call service connect failed")
	ErrResourceExhausted       = errors.New("dispatch queue full")
)
