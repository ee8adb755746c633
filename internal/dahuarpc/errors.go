package dahuarpc

import (
	"errors"
	"fmt"
)

// ResponseKind classifies a device error code.
type ResponseKind int

const (
	KindUnknown ResponseKind = iota
	KindInvalidRequest
	KindMethodNotFound
	KindInterfaceNotFound
	KindNoData
)

func (k ResponseKind) String() string {
	switch k {
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindMethodNotFound:
		return "MethodNotFound"
	case KindInterfaceNotFound:
		return "InterfaceNotFound"
	case KindNoData:
		return "NoData"
	default:
		return "Unknown"
	}
}

// Device error codes.
const (
	codeSessionInvalid    = 287637505
	codeSessionNotLogged  = 287637504
	codeInvalidRequest    = 268894209
	codeMethodNotFound    = 268894210
	codeInterfaceNotFound = 268632064
	codeNoData            = 285409284

	codeLoginChallenge    = 268632079
	codeUnauthorized      = 401
	codeUserOrPasswordBad = 268632085
	codeUserLocked        = 268632081
)

// ResponseError is the structured error a device put in the response
// envelope.
type ResponseError struct {
	Code    int          `json:"code"`
	Message string       `json:"message"`
	Kind    ResponseKind `json:"-"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("device error %d (%s): %s", e.Code, e.Kind, e.Message)
}

// TransportError means the request could not be sent or the reply could not
// be read. It says nothing about the validity of the session.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "request: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError means the reply did not have the expected shape.
type ProtocolError struct {
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return "parse: " + e.Msg + ": " + e.Err.Error()
	}
	return "parse: " + e.Msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// SessionError means there is no session or the device rejected it.
type SessionError struct {
	Msg string
}

func (e *SessionError) Error() string {
	return "session: " + e.Msg
}

// LoginError is a credential or account-state failure. A client that hit
// one stays blocked until it is rebuilt with new credentials.
type LoginError int

const (
	LoginErrorClosed LoginError = iota + 1
	LoginErrorUserOrPasswordNotValid
	LoginErrorUserNotValid
	LoginErrorPasswordNotValid
	LoginErrorInBlackList
	LoginErrorHasBeenUsed
	LoginErrorHasBeenLocked
)

func (e LoginError) Error() string {
	switch e {
	case LoginErrorClosed:
		return "client is closed"
	case LoginErrorUserOrPasswordNotValid:
		return "user or password not valid"
	case LoginErrorUserNotValid:
		return "user not valid"
	case LoginErrorPasswordNotValid:
		return "password not valid"
	case LoginErrorInBlackList:
		return "user in blacklist"
	case LoginErrorHasBeenUsed:
		return "user has been used"
	case LoginErrorHasBeenLocked:
		return "user locked"
	default:
		return fmt.Sprintf("login error %d", int(e))
	}
}

func fromResponseError(err *ResponseError) error {
	switch err.Code {
	case codeSessionInvalid, codeSessionNotLogged:
		return &SessionError{Msg: err.Message}
	case codeInvalidRequest:
		err.Kind = KindInvalidRequest
	case codeMethodNotFound:
		err.Kind = KindMethodNotFound
	case codeInterfaceNotFound:
		err.Kind = KindInterfaceNotFound
	case codeNoData:
		err.Kind = KindNoData
	default:
		err.Kind = KindUnknown
	}
	return err
}

// classifyLoginError maps a second-login failure to a LoginError. ok is false
// when the failure is not a credential problem.
func classifyLoginError(err error) (LoginError, bool) {
	var resErr *ResponseError
	if !errors.As(err, &resErr) {
		return 0, false
	}
	switch resErr.Code {
	case codeUserOrPasswordBad:
		return LoginErrorUserOrPasswordNotValid, true
	case codeUserLocked:
		return LoginErrorHasBeenLocked, true
	}
	switch resErr.Message {
	case "UserNotValidt", "UserNotValid":
		return LoginErrorUserNotValid, true
	case "PasswordNotValid":
		return LoginErrorPasswordNotValid, true
	case "InBlackList":
		return LoginErrorInBlackList, true
	case "HasBeedUsed", "HasBeenUsed":
		return LoginErrorHasBeenUsed, true
	case "HasBeenLocked":
		return LoginErrorHasBeenLocked, true
	}
	return 0, false
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}

// IsNoData reports whether the device answered "no data".
func IsNoData(err error) bool {
	var r *ResponseError
	return errors.As(err, &r) && r.Kind == KindNoData
}

// IsResponse reports whether the device answered with a structured error.
func IsResponse(err error) bool {
	var r *ResponseError
	return errors.As(err, &r)
}

// IsLogin reports whether err is a blocking login error.
func IsLogin(err error) bool {
	var l LoginError
	return errors.As(err, &l)
}
