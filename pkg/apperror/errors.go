package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// ---- Policy (POL) ----

// ErrPolicyDenied reports a denial; reason is the machine-readable check name.
func ErrPolicyDenied(reason string, message string) *AppError {
	return New("POL_001", fmt.Sprintf("%s: %s", reason, message), http.StatusForbidden)
}

func ErrNotGuardian() *AppError {
	return New("POL_002", "Caller is not the guardian of this dependent", http.StatusForbidden)
}

// ---- Custody (CUS) ----

func ErrOwnerNotFound(ownerID uuid.UUID) *AppError {
	return New("CUS_001", fmt.Sprintf("owner %s not found", ownerID), http.StatusNotFound)
}

func ErrNoSecretProvisioned(ownerID uuid.UUID) *AppError {
	return New("CUS_002", fmt.Sprintf("no wallet secret provisioned for owner %s", ownerID), http.StatusNotFound)
}

func ErrSecretAlreadyProvisioned(ownerID uuid.UUID) *AppError {
	return New("CUS_003", fmt.Sprintf("wallet secret already provisioned for owner %s", ownerID), http.StatusConflict)
}

// IsSecretUnavailable reports whether err means no usable secret exists.
func IsSecretUnavailable(err error) bool {
	return HasCode(err, "CUS_001") || HasCode(err, "CUS_002")
}

// ---- Envelope crypto (CRY) ----

func ErrInvalidInput(message string) *AppError {
	return New("CRY_001", message, http.StatusBadRequest)
}

func ErrAuthenticationFailure(err error) *AppError {
	return Wrap("CRY_002", "Ciphertext authentication failed", http.StatusInternalServerError, err)
}

func ErrDecryptionFailure(err error) *AppError {
	return Wrap("CRY_003", "Decryption failed", http.StatusInternalServerError, err)
}

func ErrKeyManagementFailure(err error) *AppError {
	return Wrap("CRY_004", "Key management service failure", http.StatusBadGateway, err)
}

// IsCryptoFailure reports whether err is an authentication, decryption or
// key-management failure.
func IsCryptoFailure(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == "CRY_002" || appErr.Code == "CRY_003" || appErr.Code == "CRY_004"
}

// ---- Gas relay (GAS) ----

func ErrInsufficientRelayFunds() *AppError {
	return New("GAS_001", "Funding wallet cannot cover the gas top-up", http.StatusUnprocessableEntity)
}

func ErrTopUpExceedsCap() *AppError {
	return New("GAS_002", "Required gas top-up exceeds the configured cap", http.StatusUnprocessableEntity)
}

// ---- Chain (CHN) ----

func ErrApprovalInsufficient() *AppError {
	return New("CHN_001", "Router allowance below required amount after approval", http.StatusBadGateway)
}

func ErrChainSubmissionFailed(err error) *AppError {
	return Wrap("CHN_002", "Chain submission failed", http.StatusBadGateway, err)
}

func ErrConfirmationTimeout(txHash string) *AppError {
	return New("CHN_003", fmt.Sprintf("Confirmation of %s timed out", txHash), http.StatusGatewayTimeout)
}

func ErrChainUnavailable(err error) *AppError {
	return Wrap("CHN_004", "Chain RPC unavailable", http.StatusBadGateway, err)
}

// ---- Market data (MKT) ----

func ErrQuoteUnavailable(err error) *AppError {
	return Wrap("MKT_001", "Swap quote unavailable", http.StatusBadGateway, err)
}

func ErrRateUnavailable(err error) *AppError {
	return Wrap("MKT_002", "Reference rate unavailable", http.StatusBadGateway, err)
}

// ---- Intents (TXN) ----

func ErrDuplicateIntent(entryID uuid.UUID) *AppError {
	return New("TXN_001", fmt.Sprintf("Intent already recorded as entry %s", entryID), http.StatusConflict)
}

func ErrInsufficientFunds() *AppError {
	return New("TXN_002", "Insufficient balance in wallet", http.StatusPaymentRequired)
}

func ErrUnknownAsset(symbol string) *AppError {
	return New("TXN_003", fmt.Sprintf("unknown asset %q", symbol), http.StatusBadRequest)
}

// ---- Generic (PAY) ----

func ErrInvalidAmount() *AppError {
	return New("PAY_002", "Invalid amount", http.StatusBadRequest)
}

func ErrNotFound(entity string) *AppError {
	return New("PAY_004", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrInsufficientScope(scope string) *AppError {
	return New("AUTH_004", fmt.Sprintf("Token lacks scope %s", scope), http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrLockTimeout(err error) *AppError {
	return Wrap("SYS_002", "Lock acquisition timeout", http.StatusServiceUnavailable, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a PAY_002-style validation error.
func Validation(message string) *AppError {
	return New("PAY_002", message, http.StatusBadRequest)
}

// RecordedFailure means a ledger entry exists for the intent and its chain leg
// failed. Funds may have partially moved: callers must reconcile the entry
// instead of retrying.
type RecordedFailure struct {
	EntryID uuid.UUID
	Status  string
	Err     error
}

func (e *RecordedFailure) Error() string {
	return fmt.Sprintf("entry %s recorded as %s: %v", e.EntryID, e.Status, e.Err)
}

func (e *RecordedFailure) Unwrap() error {
	return e.Err
}

// Recorded wraps err as a RecordedFailure for entryID.
func Recorded(entryID uuid.UUID, status string, err error) *RecordedFailure {
	return &RecordedFailure{EntryID: entryID, Status: status, Err: err}
}

// SafeToRetry reports whether the failed operation left no ledger record, so
// retrying cannot double-submit.
func SafeToRetry(err error) bool {
	if err == nil {
		return false
	}
	var rec *RecordedFailure
	return !errors.As(err, &rec)
}

// Describe returns a one-line summary of err for logs.
func Describe(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return strings.TrimSpace(appErr.Code + " " + appErr.Message)
	}
	return err.Error()
}
