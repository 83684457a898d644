// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration. It is built once at
// startup and passed by value into the components that need it; there is no
// ambient global configuration state.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Portal      PortalConfig      `mapstructure:"portal" yaml:"portal"`
	Selectors   SelectorConfig    `mapstructure:"selectors" yaml:"selectors"`
	Timeouts    TimeoutConfig     `mapstructure:"timeouts" yaml:"timeouts"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Stealth     StealthConfig     `mapstructure:"stealth" yaml:"stealth"`
	Behavior    BehaviorConfig    `mapstructure:"behavior" yaml:"behavior"`
	Captcha     CaptchaConfig     `mapstructure:"captcha" yaml:"captcha"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Certificate CertificateConfig `mapstructure:"certificate" yaml:"certificate"`
	Walker      WalkerConfig      `mapstructure:"walker" yaml:"walker"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// PortalConfig pins the portal and SSO endpoints the session moves through.
type PortalConfig struct {
	HomeURL        string `mapstructure:"home_url" yaml:"home_url"`
	VehicleListURL string `mapstructure:"vehicle_list_url" yaml:"vehicle_list_url"`
	PortalHost     string `mapstructure:"portal_host" yaml:"portal_host"`
	SSOHost        string `mapstructure:"sso_host" yaml:"sso_host"`
	// CertInfoFragment marks the intermediate certificate-info page the SSO
	// sometimes routes through on its way back to the portal.
	CertInfoFragment string `mapstructure:"cert_info_fragment" yaml:"cert_info_fragment"`
}

// SelectorConfig carries every DOM selector the navigator touches, with the
// fallback chains the portal's markup churn has made necessary.
type SelectorConfig struct {
	LoginButton         string   `mapstructure:"login_button" yaml:"login_button"`
	LoginTextFallbacks  []string `mapstructure:"login_text_fallbacks" yaml:"login_text_fallbacks"`
	CertificateButton   string   `mapstructure:"certificate_button" yaml:"certificate_button"`
	CertTextFallbacks   []string `mapstructure:"cert_text_fallbacks" yaml:"cert_text_fallbacks"`
	SuccessMarkers      []string `mapstructure:"success_markers" yaml:"success_markers"`
	ListContainer       string   `mapstructure:"list_container" yaml:"list_container"`
	ListItem            string   `mapstructure:"list_item" yaml:"list_item"`
	ListItemFallback    string   `mapstructure:"list_item_fallback" yaml:"list_item_fallback"`
	FineBlock           string   `mapstructure:"fine_block" yaml:"fine_block"`
	NextButton          string   `mapstructure:"next_button" yaml:"next_button"`
	PaginationText      string   `mapstructure:"pagination_text" yaml:"pagination_text"`
	ControlKeywords     []string `mapstructure:"control_keywords" yaml:"control_keywords"`
	NextButtonFallbacks []string `mapstructure:"next_button_fallbacks" yaml:"next_button_fallbacks"`
	RejectionKeywords   []string `mapstructure:"rejection_keywords" yaml:"rejection_keywords"`
	CertMissingKeywords []string `mapstructure:"cert_missing_keywords" yaml:"cert_missing_keywords"`
	MinItemTextLength   int      `mapstructure:"min_item_text_length" yaml:"min_item_text_length"`
}

// TimeoutConfig bounds every suspend point in the flow.
type TimeoutConfig struct {
	Navigation           time.Duration `mapstructure:"navigation" yaml:"navigation"`
	SSORedirect          time.Duration `mapstructure:"sso_redirect" yaml:"sso_redirect"`
	CertificateSelection time.Duration `mapstructure:"certificate_selection" yaml:"certificate_selection"`
	Authentication       time.Duration `mapstructure:"authentication" yaml:"authentication"`
	ChallengeResolution  time.Duration `mapstructure:"challenge_resolution" yaml:"challenge_resolution"`
	ChallengeTick        time.Duration `mapstructure:"challenge_tick" yaml:"challenge_tick"`
	PollTick             time.Duration `mapstructure:"poll_tick" yaml:"poll_tick"`
	DetailWait           time.Duration `mapstructure:"detail_wait" yaml:"detail_wait"`
	SettleDelay          time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// ProgressEvery controls the coarse progress-log cadence inside poll
	// loops: one log line every N ticks.
	ProgressEvery int `mapstructure:"progress_every" yaml:"progress_every"`
}

// BrowserConfig holds settings for the Chromium instance.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	UserDataDir     string   `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	WindowWidth     int      `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight    int      `mapstructure:"window_height" yaml:"window_height"`
	ExecPath        string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args            []string `mapstructure:"args" yaml:"args"`
	Debug           bool     `mapstructure:"debug" yaml:"debug"`
}

// StealthConfig toggles the anti-detection cosmetics.
type StealthConfig struct {
	Enabled              bool `mapstructure:"enabled" yaml:"enabled"`
	RandomizeFingerprint bool `mapstructure:"randomize_fingerprint" yaml:"randomize_fingerprint"`
}

// BehaviorConfig tunes the human-behavior simulation between actions.
type BehaviorConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	BaseDelay     time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	Variance      float64       `mapstructure:"variance" yaml:"variance"`
	ReadingChance float64       `mapstructure:"reading_chance" yaml:"reading_chance"`
	ScrollChance  float64       `mapstructure:"scroll_chance" yaml:"scroll_chance"`
}

// CaptchaConfig configures the external solving service.
type CaptchaConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	APIKey       string        `mapstructure:"api_key" yaml:"api_key"`
	APIBase      string        `mapstructure:"api_base" yaml:"api_base"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// StoreConfig holds the persistence connection details.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
}

// CertificateConfig points at the client certificate checked before a run.
type CertificateConfig struct {
	Path     string `mapstructure:"path" yaml:"path"`
	Required bool   `mapstructure:"required" yaml:"required"`
}

// WalkerConfig bounds the list walk.
type WalkerConfig struct {
	// MaxPages is a hard ceiling on page advances; 0 means unbounded.
	MaxPages int `mapstructure:"max_pages" yaml:"max_pages"`
	// PageInterval is the minimum spacing between page advances and item
	// opens, enforced by a rate limiter.
	PageInterval time.Duration `mapstructure:"page_interval" yaml:"page_interval"`
}

// SetDefaults initializes default values for all configuration parameters.
// The selector and timing defaults mirror the portal's current markup and the
// wait budgets that survive its load variance in practice.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "senafine")
	v.SetDefault("logger.log_file", "senafine.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Portal --
	v.SetDefault("portal.home_url", "https://portalservicos.senatran.serpro.gov.br/#/home")
	v.SetDefault("portal.vehicle_list_url", "https://portalservicos.senatran.serpro.gov.br/#/infracoes")
	v.SetDefault("portal.portal_host", "portalservicos.senatran.serpro.gov.br")
	v.SetDefault("portal.sso_host", "sso.acesso.gov.br")
	v.SetDefault("portal.cert_info_fragment", "acesso.gov.br/info/x509")

	// -- Selectors --
	v.SetDefault("selectors.login_button", "button.br-sign-in")
	v.SetDefault("selectors.login_text_fallbacks", []string{"Entrar com", "Entrar"})
	v.SetDefault("selectors.certificate_button", "#login-certificate")
	v.SetDefault("selectors.cert_text_fallbacks", []string{"Seu certificado digital", "certificado digital"})
	v.SetDefault("selectors.success_markers", []string{
		"div.header-avatar",
		"span.user-name",
		"app-header div.logged",
	})
	v.SetDefault("selectors.list_container", "app-infracao-veiculo-lista")
	v.SetDefault("selectors.list_item", "app-infracao-veiculo-lista div.card-list-item")
	v.SetDefault("selectors.list_item_fallback", "//app-infracao-veiculo-lista//div[contains(@class,'card')]")
	v.SetDefault("selectors.fine_block", "div.col-md-12.autuacao.border")
	v.SetDefault("selectors.next_button", "#btn-next-page")
	v.SetDefault("selectors.pagination_text", ".pagination-info, .paginator-range, [class*='pagination']")
	v.SetDefault("selectors.control_keywords", []string{
		"exibir", "página", "pagina", "itens", "próximo", "proximo", "anterior",
	})
	v.SetDefault("selectors.next_button_fallbacks", []string{
		"button[aria-label*='róxim']",
		"button[aria-label*='ext']",
		"li.pagination-next button",
	})
	v.SetDefault("selectors.rejection_keywords", []string{
		"captcha inválido", "captcha invalido", "verificação falhou", "tente novamente",
	})
	v.SetDefault("selectors.cert_missing_keywords", []string{
		"certificado não encontrado", "certificado nao encontrado", "nenhum certificado",
	})
	v.SetDefault("selectors.min_item_text_length", 10)

	// -- Timeouts --
	v.SetDefault("timeouts.navigation", "60s")
	v.SetDefault("timeouts.sso_redirect", "30s")
	v.SetDefault("timeouts.certificate_selection", "60s")
	v.SetDefault("timeouts.authentication", "300s")
	v.SetDefault("timeouts.challenge_resolution", "300s")
	v.SetDefault("timeouts.challenge_tick", "2s")
	v.SetDefault("timeouts.poll_tick", "1s")
	v.SetDefault("timeouts.detail_wait", "10s")
	v.SetDefault("timeouts.settle_delay", "5s")
	v.SetDefault("timeouts.progress_every", 5)

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 768)
	v.SetDefault("browser.debug", false)

	// -- Stealth --
	v.SetDefault("stealth.enabled", true)
	v.SetDefault("stealth.randomize_fingerprint", true)

	// -- Behavior --
	v.SetDefault("behavior.enabled", true)
	v.SetDefault("behavior.base_delay", "2s")
	v.SetDefault("behavior.variance", 0.5)
	v.SetDefault("behavior.reading_chance", 0.15)
	v.SetDefault("behavior.scroll_chance", 0.3)

	// -- Captcha --
	v.SetDefault("captcha.enabled", false)
	v.SetDefault("captcha.api_base", "https://2captcha.com")
	v.SetDefault("captcha.poll_interval", "5s")
	v.SetDefault("captcha.timeout", "120s")

	// -- Store --
	v.SetDefault("store.enabled", false)

	// -- Certificate --
	v.SetDefault("certificate.required", false)

	// -- Walker --
	v.SetDefault("walker.max_pages", 0)
	v.SetDefault("walker.page_interval", "3s")
}

// NewConfigFromViper creates a validated configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("captcha.api_key", "SENAFINE_CAPTCHA_API_KEY")
	v.BindEnv("store.url", "SENAFINE_STORE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Portal.HomeURL == "" || c.Portal.VehicleListURL == "" {
		return fmt.Errorf("portal.home_url and portal.vehicle_list_url are required")
	}
	if c.Portal.SSOHost == "" || c.Portal.PortalHost == "" {
		return fmt.Errorf("portal.sso_host and portal.portal_host are required")
	}
	if c.Timeouts.PollTick <= 0 || c.Timeouts.ChallengeTick <= 0 {
		return fmt.Errorf("timeouts.poll_tick and timeouts.challenge_tick must be positive")
	}
	if c.Timeouts.Authentication <= 0 {
		return fmt.Errorf("timeouts.authentication must be positive")
	}
	if c.Timeouts.ProgressEvery <= 0 {
		return fmt.Errorf("timeouts.progress_every must be positive")
	}
	if c.Captcha.Enabled && c.Captcha.APIKey == "" {
		return fmt.Errorf("captcha.api_key is required when captcha solving is enabled (set SENAFINE_CAPTCHA_API_KEY)")
	}
	if c.Store.Enabled && c.Store.URL == "" {
		return fmt.Errorf("store.url is required when persistence is enabled (set SENAFINE_STORE_URL)")
	}
	if c.Walker.MaxPages < 0 {
		return fmt.Errorf("walker.max_pages cannot be negative")
	}
	return nil
}
