package session

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode код ошибки сессии, передаваемый слушателям
type ErrorCode string

const (
	ErrorAuthenticationFailed      ErrorCode = "AUTHENTICATION_FAILED"
	ErrorUnsupportedMediaType      ErrorCode = "UNSUPPORTED_MEDIA_TYPE"
	ErrorMediaUploadFailed         ErrorCode = "MEDIA_UPLOAD_FAILED"
	ErrorMediaDownloadFailed       ErrorCode = "MEDIA_DOWNLOAD_FAILED"
	ErrorSessionInitiationFailed   ErrorCode = "SESSION_INITIATION_FAILED"
	ErrorSessionInitiationDeclined ErrorCode = "SESSION_INITIATION_DECLINED"
	ErrorUnexpectedFailure         ErrorCode = "UNEXPECTED_EXCEPTION"
)

// String возвращает строковое представление кода
func (c ErrorCode) String() string {
	return string(c)
}

// Error ошибка сессии с кодом и исходной причиной
type Error struct {
	Code      ErrorCode
	Message   string
	SessionID string
	// StatusCode код SIP ответа, если ошибка вызвана ответом
	StatusCode int
	Cause      error
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap возвращает исходную ошибку
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// newError создает ошибку сессии
func newError(code ErrorCode, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// asError приводит произвольную ошибку к *Error. Неизвестные ошибки
// становятся UnexpectedFailure.
func asError(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return newError(ErrorUnexpectedFailure, err, "unexpected session failure")
}

// CodeOf возвращает код ошибки сессии или пустую строку
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// AbortReason причина прерывания сессии
type AbortReason string

const (
	AbortByUser    AbortReason = "BY_USER"
	AbortByTimeout AbortReason = "BY_TIMEOUT"
	AbortByRemote  AbortReason = "BY_REMOTE"
	AbortBySystem  AbortReason = "BY_SYSTEM"
)

// errLocalCancel возвращается из run при локальной отмене передачи.
// Такое завершение не уведомляет слушателей.
var errLocalCancel = errors.New("session: cancelled locally")

// abortError завершает run прерыванием с причиной
type abortError struct {
	reason AbortReason
}

func (e *abortError) Error() string {
	return "session aborted: " + string(e.reason)
}

func aborted(reason AbortReason) error {
	return &abortError{reason: reason}
}
