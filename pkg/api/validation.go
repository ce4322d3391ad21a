package api

import "fmt"

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxIDLength     int
	MaxInstructions int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxIDLength:     256,
		MaxInstructions: 1024 * 1024, // 1MB
	}
}

// ValidateSessionRequest checks a SessionRequest for structural validity.
// Unknown guardrail levels are left to the broker, which reports them as a
// failed request.
func ValidateSessionRequest(req *SessionRequest, cfg ValidationConfig) *APIError {
	if err := validateID("sessionId", req.SessionID, cfg); err != nil {
		return err
	}
	if cfg.MaxInstructions > 0 && len(req.Instructions) > cfg.MaxInstructions {
		return NewInvalidRequestError("instructions",
			fmt.Sprintf("instructions exceed maximum of %d bytes", cfg.MaxInstructions))
	}
	return nil
}

// ValidateChatRequest checks a ChatRequest for structural validity. Prompt
// content policy is enforced by the broker's validator, not here.
func ValidateChatRequest(req *ChatRequest, cfg ValidationConfig) *APIError {
	return validateID("sessionId", req.SessionID, cfg)
}

// ValidateStreamRequest checks a StreamRequest for structural validity.
func ValidateStreamRequest(req *StreamRequest, cfg ValidationConfig) *APIError {
	if err := validateID("streamId", req.StreamID, cfg); err != nil {
		return err
	}
	return validateID("sessionId", req.SessionID, cfg)
}

func validateID(param, id string, cfg ValidationConfig) *APIError {
	if id == "" {
		return NewInvalidRequestError(param, param+" is required")
	}
	if cfg.MaxIDLength > 0 && len(id) > cfg.MaxIDLength {
		return NewInvalidRequestError(param,
			fmt.Sprintf("%s exceeds maximum length of %d", param, cfg.MaxIDLength))
	}
	return nil
}
