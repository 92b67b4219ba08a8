// Package config carga y valida la configuración del bridge: YAML + overrides
// por variables de entorno AUTHBRIDGE_*.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | prod
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`

		// BaseURL de la app (para armar redirects absolutos)
		BaseURL        string `yaml:"base_url"`
		LoginPath      string `yaml:"login_path"`
		OnboardingPath string `yaml:"onboarding_path"`
		HomePath       string `yaml:"home_path"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	} `yaml:"server"`

	Provider struct {
		ClientKey    string   `yaml:"client_key"`
		ClientSecret string   `yaml:"client_secret"`
		RedirectURL  string   `yaml:"redirect_url"`
		Scopes       []string `yaml:"scopes"` // default: user.info.basic

		// Overrides de endpoints, solo para tests/staging
		AuthEndpoint     string `yaml:"auth_endpoint"`
		TokenEndpoint    string `yaml:"token_endpoint"`
		UserInfoEndpoint string `yaml:"userinfo_endpoint"`

		// TTL del state cifrado
		StateMaxAge time.Duration `yaml:"state_max_age"` // default: 5m
	} `yaml:"provider"`

	Security struct {
		// ServerSecret deriva la clave del state cifrado y las credenciales
		// sintéticas. Si está vacío se usa el client secret del proveedor.
		// Rotarlo invalida todos los states en vuelo.
		ServerSecret string `yaml:"server_secret"`
	} `yaml:"security"`

	Identity struct {
		URL        string `yaml:"url"`
		ServiceKey string `yaml:"service_key"` // debe ser una key con rol de servicio
	} `yaml:"identity"`

	Storage struct {
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxConns        int32  `yaml:"max_conns"`
			MinConns        int32  `yaml:"min_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		Start   struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"start"`
		Callback struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"callback"`
	} `yaml:"rate"`

	Flags struct {
		Migrate bool `yaml:"migrate"`
	} `yaml:"flags"`
}

// ConfigurationError: falta una opción requerida o la service key no tiene
// privilegio de servicio. Siempre se detecta antes de cualquier llamada de red.
type ConfigurationError struct {
	Missing []string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return "config: missing " + strings.Join(e.Missing, ", ")
	}
	return "config: " + e.Reason
}

// Load lee el YAML (opcional) y aplica overrides de entorno.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	c.applyEnvOverrides()
	c.applyDefaults()
	return &c, nil
}

func envOr(key, cur string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return cur
}

func (c *Config) applyEnvOverrides() {
	c.App.Env = envOr("AUTHBRIDGE_ENV", c.App.Env)
	c.App.BaseURL = envOr("AUTHBRIDGE_APP_BASE_URL", c.App.BaseURL)
	c.Server.Addr = envOr("AUTHBRIDGE_ADDR", c.Server.Addr)
	c.Provider.ClientKey = envOr("AUTHBRIDGE_TIKTOK_CLIENT_KEY", c.Provider.ClientKey)
	c.Provider.ClientSecret = envOr("AUTHBRIDGE_TIKTOK_CLIENT_SECRET", c.Provider.ClientSecret)
	c.Provider.RedirectURL = envOr("AUTHBRIDGE_TIKTOK_REDIRECT_URL", c.Provider.RedirectURL)
	c.Identity.URL = envOr("AUTHBRIDGE_IDENTITY_URL", c.Identity.URL)
	c.Identity.ServiceKey = envOr("AUTHBRIDGE_IDENTITY_SERVICE_KEY", c.Identity.ServiceKey)
	c.Security.ServerSecret = envOr("AUTHBRIDGE_SERVER_SECRET", c.Security.ServerSecret)
	c.Storage.DSN = envOr("AUTHBRIDGE_DB_DSN", c.Storage.DSN)
	c.Cache.Redis.Addr = envOr("AUTHBRIDGE_REDIS_ADDR", c.Cache.Redis.Addr)
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.App.LoginPath == "" {
		c.App.LoginPath = "/login"
	}
	if c.App.OnboardingPath == "" {
		c.App.OnboardingPath = "/onboarding"
	}
	if c.App.HomePath == "" {
		c.App.HomePath = "/feed"
	}
	if len(c.Provider.Scopes) == 0 {
		c.Provider.Scopes = []string{"user.info.basic"}
	}
	if c.Provider.StateMaxAge <= 0 {
		c.Provider.StateMaxAge = 5 * time.Minute
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Rate.Start.Limit == 0 {
		c.Rate.Start.Limit = 15
	}
	if c.Rate.Callback.Limit == 0 {
		c.Rate.Callback.Limit = 30
	}
	if c.Rate.Start.Window == "" {
		c.Rate.Start.Window = "1m"
	}
	if c.Rate.Callback.Window == "" {
		c.Rate.Callback.Window = "1m"
	}
}

// ServerSecret devuelve el secreto con el que se derivan la clave del state
// y las credenciales sintéticas: security.server_secret si está seteado, el
// client secret del proveedor si no.
func (c *Config) ServerSecret() string {
	if c.Security.ServerSecret != "" {
		return c.Security.ServerSecret
	}
	return c.Provider.ClientSecret
}

// serviceRoles son los claims de rol aceptados como privilegio elevado.
var serviceRoles = map[string]bool{"service_role": true, "service": true, "supabase_admin": true}

// ValidateBridge chequea todo lo que el flujo necesita antes de tocar la red.
func (c *Config) ValidateBridge() error {
	var missing []string
	if c.Provider.ClientKey == "" {
		missing = append(missing, "provider.client_key")
	}
	if c.Provider.ClientSecret == "" {
		missing = append(missing, "provider.client_secret")
	}
	if c.Provider.RedirectURL == "" {
		missing = append(missing, "provider.redirect_url")
	}
	if c.Identity.URL == "" {
		missing = append(missing, "identity.url")
	}
	if c.Identity.ServiceKey == "" {
		missing = append(missing, "identity.service_key")
	}
	if c.App.BaseURL == "" {
		missing = append(missing, "app.base_url")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	if err := checkServiceKeyRole(c.Identity.ServiceKey); err != nil {
		return err
	}
	return nil
}

// checkServiceKeyRole verifica que la key del servicio de identidad sea de
// rol de servicio, no una key anónima de cliente. Las keys son JWTs; el
// claim `role` se lee sin verificar firma (acá no tenemos el secreto del
// servicio de identidad, y no hace falta: esto es un guard de configuración,
// la autorización real la hace el servicio).
func checkServiceKeyRole(key string) error {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(key, claims); err != nil {
		return &ConfigurationError{Reason: "identity.service_key is not a valid service key"}
	}
	role, _ := claims["role"].(string)
	if !serviceRoles[role] {
		return &ConfigurationError{Reason: fmt.Sprintf("identity.service_key has role %q, a service-level key is required", role)}
	}
	return nil
}
