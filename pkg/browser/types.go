package browser

import (
	"time"

	"github.com/rs/zerolog"
)

// Config configures the headless browser behind the computer tool.
type Config struct {
	Headless bool
	BinPath  string
	Width    int
	Height   int
	StartURL string

	// ActionTimeout bounds navigation, evaluation and screenshots.
	ActionTimeout time.Duration

	Security SecurityConfig
	Logger   zerolog.Logger
}

// SecurityConfig restricts which URLs the agent may open.
type SecurityConfig struct {
	AllowFileURLs      bool     `json:"allowFileUrls"`
	AllowLocalhostURLs bool     `json:"allowLocalhostUrls"`
	AllowedDomains     []string `json:"allowedDomains,omitempty"`
	BlockedDomains     []string `json:"blockedDomains,omitempty"`
}

// PageInfo describes the page currently shown.
type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// BrowserError is returned by the driver and surfaced to the model as the
// tool error text.
type BrowserError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *BrowserError) Error() string {
	return e.Message
}

// Error codes
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNavigation      = "NAVIGATION_ERROR"
	ErrCodeTimeout         = "TIMEOUT_ERROR"
	ErrCodeElementNotFound = "ELEMENT_NOT_FOUND"
	ErrCodeScriptExecution = "SCRIPT_EXECUTION_ERROR"
	ErrCodeSecurity        = "SECURITY_ERROR"
	ErrCodeBrowserCrash    = "BROWSER_CRASH"
	ErrCodeConfiguration   = "CONFIGURATION_ERROR"
)
