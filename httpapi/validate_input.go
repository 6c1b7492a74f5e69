package httpapi

import (
	"mime/multipart"
	"regexp"
	"strings"

	"github.com/afirgen/fir-pipeline/domain/fir"
	"github.com/afirgen/fir-pipeline/infrastructure/errors"
	"github.com/afirgen/fir-pipeline/infrastructure/middleware"
)

const (
	minTextLen        = 10
	maxTextLen        = 50_000
	maxUserInputLen   = 10_000
	maxUploadBytes    = 25 << 20
	maxPaginationPage = 100
)

var allowedUploadMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"audio/wav":  true,
	"audio/mpeg": true,
}

// xssDenyPatterns are the literal substrings §4.6 requires rejecting on any
// user-supplied text field, checked case-insensitively.
var xssDenyPatterns = []string{
	"<script", "javascript:", "<iframe", "<object", "eval(", "expression(",
}

var onEventAttr = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)

// validateText enforces length bounds and the XSS deny-list on a primary text
// field (the /process text source).
func validateText(field, value string) error {
	if len(value) < minTextLen || len(value) > maxTextLen {
		return errors.OutOfRange(field, minTextLen, maxTextLen)
	}
	return checkDenyList(field, value)
}

// validateUserInput enforces the shorter bound on optional correction hints
// (/validate, /regenerate's user_input).
func validateUserInput(field, value string) error {
	if value == "" {
		return nil
	}
	if len(value) > maxUserInputLen {
		return errors.OutOfRange(field, 0, maxUserInputLen)
	}
	return checkDenyList(field, value)
}

func checkDenyList(field, value string) error {
	lower := strings.ToLower(value)
	for _, pattern := range xssDenyPatterns {
		if strings.Contains(lower, pattern) {
			return errors.InvalidInput(field, "contains disallowed markup")
		}
	}
	if onEventAttr.MatchString(value) {
		return errors.InvalidInput(field, "contains disallowed markup")
	}
	return nil
}

// validateUpload enforces the file-size and MIME whitelist on a /process
// audio or image upload.
func validateUpload(field string, header *multipart.FileHeader) error {
	if header.Size <= 0 || header.Size > maxUploadBytes {
		return errors.OutOfRange(field+"_size", 1, maxUploadBytes)
	}
	contentType := header.Header.Get("Content-Type")
	if !allowedUploadMIME[contentType] {
		return errors.InvalidFormat(field, "image/jpeg, image/png, audio/wav, or audio/mpeg")
	}
	return nil
}

// validateSessionID enforces the session id grammar (canonical UUIDv4).
func validateSessionID(id string) error {
	if !middleware.IsValidUUID(id) {
		return errors.InvalidFormat("session_id", "UUIDv4")
	}
	return nil
}

// validateFIRNumber enforces the FIR number grammar.
func validateFIRNumber(number string) error {
	if !fir.ValidNumber(number) {
		return errors.InvalidFormat("fir_number", "FIR-{8hex}-{14digit}")
	}
	return nil
}
