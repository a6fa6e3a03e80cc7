package llm

import "fmt"

// ProviderError is the uniform wrapper for any upstream failure:
// transport errors, non-2xx responses, and malformed payloads. The raw
// response body is preserved for diagnostics.
type ProviderError struct {
	Provider     string
	Message      string
	ResponseBody string
	Err          error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Detailed renders the full diagnostic form for logs: message,
// response body, and the original cause.
func (e *ProviderError) Detailed() string {
	s := e.Error()
	if e.ResponseBody != "" {
		s += "\nResponse body: " + e.ResponseBody
	}
	if e.Err != nil {
		s += fmt.Sprintf("\nOriginal error: %v", e.Err)
	}
	return s
}

func providerErr(provider, message string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Message: message, Err: err}
}

func providerAPIErr(provider string, status int, body string) *ProviderError {
	return &ProviderError{
		Provider:     provider,
		Message:      fmt.Sprintf("API error (%d)", status),
		ResponseBody: body,
	}
}
