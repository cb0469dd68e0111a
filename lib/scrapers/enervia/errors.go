package enervia

import "fmt"

// The error taxonomy callers branch on. Login-stage errors are fatal
// to a run; document-stage errors degrade to a logged skip of the
// smallest enclosing unit.
var (
	ErrMissingCredentials  = fmt.Errorf("login credential is missing")
	ErrLoginFailed         = fmt.Errorf("the portal rejected the credentials")
	ErrTooManyAttempts     = fmt.Errorf("the customer account is locked after too many attempts")
	ErrVendorUnavailable   = fmt.Errorf("the portal is unavailable")
	ErrDocumentUnavailable = fmt.Errorf("document is unavailable")
	ErrMalformedResponse   = fmt.Errorf("the portal answered with an unexpected payload")
)

// the exact phrase the portal embeds in 401 bodies when the account is
// locked, as opposed to a plain bad-credentials 401
const lockedAccountPhrase = "compte client est bloqué"
