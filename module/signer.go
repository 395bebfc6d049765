package module

import (
	"github.com/mnlabs/quorum-go/model/llq"
)

// RecoveredSigListener is notified whenever a new recovered signature was
// verified and persisted. Callbacks run on the signing manager's worker and
// must not block.
type RecoveredSigListener interface {
	HandleNewRecoveredSig(recSig *llq.RecoveredSig)
}

// RecoveredSigListenerFunc adapts a plain function to the listener interface.
type RecoveredSigListenerFunc func(recSig *llq.RecoveredSig)

func (f RecoveredSigListenerFunc) HandleNewRecoveredSig(recSig *llq.RecoveredSig) {
	f(recSig)
}
