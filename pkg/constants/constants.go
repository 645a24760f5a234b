package constants

import "time"

const (
	LibraryVersion = "0.1.0"
	LibraryName    = "crmclient"

	DefaultBaseURL   = "http://localhost:3000"
	DefaultAPIPrefix = "/api/v1"

	// Auth endpoints, relative to the API prefix.
	DefaultLoginPath   = "/auth/login"
	DefaultRefreshPath = "/auth/refresh"
	DefaultLogoutPath  = "/auth/logout"
	DefaultMePath      = "/auth/me"

	// DefaultLoginURL is the entry point the user is sent to on hard logout.
	DefaultLoginURL = "/login"

	DefaultHTTPTimeout    = 30 * time.Second
	DefaultDialerTimeout  = 10 * time.Second
	DefaultMaxContentSize = 10 * 1024 * 1024
	DefaultUserAgent      = "crmclient/0.1"
	MaxAPIRequestSize     = 1 * 1024 * 1024 // 1MB max request body
	MaxRedirects          = 5

	// Connection pool
	MaxIdleConns        = 100
	MaxIdleConnsPerHost = 10
	MaxConnsPerHost     = 100
	IdleConnTimeout     = 90 * time.Second

	TLSHandshakeTimeout   = 10 * time.Second
	ResponseHeaderTimeout = 30 * time.Second
	ExpectContinueTimeout = 1 * time.Second
	KeepAliveTimeout      = 30 * time.Second

	// TokenRefreshTimeout matches DefaultHTTPTimeout: a refresh carries the
	// same timeout discipline as ordinary requests.
	TokenRefreshTimeout = 30 * time.Second
	MinTokenLength      = 10
	MaxTokenLength      = 4096

	ContentTypeHTML  = "text/html"
	ContentTypePlain = "text/plain"
	ContentTypeJSON  = "application/json"

	HeaderAuthorization = "Authorization"
	HeaderRequestID     = "X-Request-ID"
	HeaderContentType   = "Content-Type"
	HeaderAccept        = "Accept"
	HeaderUserAgent     = "User-Agent"

	DirPermissions  = 0700
	FilePermissions = 0600

	DefaultStorageDir = ".crmclient"
	TokenFileName     = "credentials.json"

	DefaultRedisKey = "crmclient:credentials"

	EnvPrefix = "CRM"

	UnexpectedErrorMessage = "An unexpected error occurred"

	ValidationErrorEmpty    = "cannot be empty"
	ValidationErrorRequired = "must be provided"
	ValidationErrorInvalid  = "is invalid"
	ConfigErrorPrefix       = "config error in "

	WhitespaceNewline = "\n"
	WhitespaceTab     = "\t"
	WhitespaceDouble  = "  "
)

var HTMLTagsToRemove = []string{"script", "style", "head"}

var BrowserCommands = map[string][]string{
	"windows": {"cmd", "/c", "start"},
	"darwin":  {"open"},
	"linux":   {"xdg-open"},
}
