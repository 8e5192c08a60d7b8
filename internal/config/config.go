package config

import (
	"errors"
	"net/url"
	"strings"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

type Options struct {
	BaseURL     string `long:"base-url" env:"MARKETPLACE_BASE_URL" default:"http://localhost:8080" description:"Marketplace API base URL (e.g. https://market.example.com)"`
	BrokerURL   string `long:"broker-url" env:"MARKETPLACE_BROKER_URL" description:"STOMP WebSocket broker URL (defaults to ws://<api host>/ws)"`
	SessionFile string `long:"session-file" env:"MARKETPLACE_SESSION_FILE" description:"Override the persisted session file location"`
	Debug       bool   `long:"debug" env:"MARKETPLACE_DEBUG" description:"Enable verbose debug output"`
}

type APIEndpoints struct {
	BaseURL           string
	LoginURL          string
	RegisterURL       string
	LogoutURL         string
	RefreshURL        string
	ForgotPasswordURL string
	ValidateResetURL  string
	ResetPasswordURL  string
	UsernameURL       string
	ChatsURL          string
	MessagesURL       string
	BrokerURL         string
	ChatDestination   string
	UserQueueTemplate string
}

const (
	authPath          = "/auth"
	brokerPath        = "/ws"
	chatDestination   = "/app/chat"
	userQueueTemplate = "/user/%s/queue/messages"
)

// NewParser loads .env into the process environment and returns a go-flags
// parser bound to opts. Subcommands are attached by the caller.
func NewParser(opts *Options) *flags.Parser {
	_ = godotenv.Load()
	parser := flags.NewParser(opts, flags.Default)
	parser.ShortDescription = "marketplace client"
	parser.LongDescription = "Log in to the marketplace, keep the session fresh, and chat about listings."
	return parser
}

func ValidateRequired(opts Options) error {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return errors.New("base URL is required")
	}
	return nil
}

func BuildEndpoints(rawBaseURL string, rawBrokerURL string) (APIEndpoints, error) {
	base, err := buildAPIBaseURL(rawBaseURL)
	if err != nil {
		return APIEndpoints{}, err
	}
	broker, err := buildBrokerURL(base, rawBrokerURL)
	if err != nil {
		return APIEndpoints{}, err
	}
	root := base.String()
	return APIEndpoints{
		BaseURL:           root,
		LoginURL:          root + authPath + "/login",
		RegisterURL:       root + authPath + "/register",
		LogoutURL:         root + authPath + "/logout",
		RefreshURL:        root + authPath + "/refresh",
		ForgotPasswordURL: root + authPath + "/forgot-password",
		ValidateResetURL:  root + authPath + "/validate-reset-token",
		ResetPasswordURL:  root + authPath + "/reset-password",
		UsernameURL:       root + authPath + "/username",
		ChatsURL:          root + "/chats",
		MessagesURL:       root + "/messages",
		BrokerURL:         broker,
		ChatDestination:   chatDestination,
		UserQueueTemplate: userQueueTemplate,
	}, nil
}

func buildAPIBaseURL(raw string) (*url.URL, error) {
	value := strings.TrimSpace(raw)
	parsed, err := url.Parse(value)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("expected absolute URL like https://example.com")
	}
	if !strings.EqualFold(parsed.Scheme, "http") && !strings.EqualFold(parsed.Scheme, "https") {
		return nil, errors.New("base URL scheme must be http or https")
	}

	// The API is served from the host root; anything pasted after it is dropped.
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Path = ""
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.User = nil
	return parsed, nil
}

func buildBrokerURL(base *url.URL, raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		derived := *base
		derived.Scheme = "ws"
		if base.Scheme == "https" {
			derived.Scheme = "wss"
		}
		derived.Path = brokerPath
		return derived.String(), nil
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(parsed.Scheme, "ws") && !strings.EqualFold(parsed.Scheme, "wss") {
		return "", errors.New("broker URL scheme must be ws or wss")
	}
	if parsed.Host == "" {
		return "", errors.New("broker URL is missing a host")
	}
	if strings.Trim(parsed.Path, "/") == "" {
		parsed.Path = brokerPath
	}
	return parsed.String(), nil
}
