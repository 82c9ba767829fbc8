package config

import (
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"log/slog"

	"github.com/patrickfnielsen/access-portal/pkg/access"
)

var VERSION = 0.2
var Enviroment = GetEnv("PORTAL_ENV", "PROD")
var LogLevel = ParseLevel(GetEnv("PORTAL_LOG_LEVEL", "INFO"))
var Listen = GetEnv("PORTAL_LISTEN", ":3000")

// Upstream validators, one per gated resource, in slot order.
var AppScriptCodigo = GetEnv("APPSCRIPT_CODIGO", "")
var AppScriptMaquina = GetEnv("APPSCRIPT_MAQUINA", "")
var AppScriptMaestria = GetEnv("APPSCRIPT_MAESTRIA", "")
var UpstreamTimeout = GetEnv("PORTAL_UPSTREAM_TIMEOUT", access.DefaultTimeout)

var AccessPolicy = GetEnv("PORTAL_ACCESS_POLICY", string(access.PolicyDefaultAllow))
var TierInheritance = GetEnv("PORTAL_TIER_INHERITANCE", false)

var PolicyPath = GetEnv("PORTAL_POLICY_PATH", access.DefaultPolicyPath)
var PolicyFile = GetEnv("PORTAL_POLICY_FILE", "")
var PolicyRepository = GetEnv("PORTAL_POLICY_REPOSITORY", "")
var PolicyRepositoryBranch = GetEnv("PORTAL_POLICY_REPOSITORY_BRANCH", "main")
var PolicyRepositoryKey = GetEnv("PORTAL_POLICY_REPOSITORY_KEY", "")

var AuditLogConsole = GetEnv("PORTAL_AUDIT_LOG_CONSOLE", true)
var AuditLogHTTP = GetEnv("PORTAL_AUDIT_LOG_HTTP", false)
var AuditLogServer = GetEnv("PORTAL_AUDIT_LOG_SERVER", "")
var AuditLogServerEndpoint = GetEnv("PORTAL_AUDIT_LOG_SERVER_ENDPOINT", "/api/v1/access/logs")
var AuditLogServerToken = GetEnv("PORTAL_AUDIT_LOG_SERVER_TOKEN", "")
var AuditLogServerTLS = GetEnv("PORTAL_AUDIT_LOG_SERVER_TLS", true)

var DebugEndpoints = GetEnv("PORTAL_DEBUG_ENDPOINTS", false)
var Metrics = GetEnv("PORTAL_METRICS", true)
var StaticDir = GetEnv("PORTAL_STATIC_DIR", "")
var SupportWhatsApp = GetEnv("PORTAL_SUPPORT_WHATSAPP", "573176484451")

// Resources returns the gated resources in slot order. URLs may be empty,
// the access client reports that per request.
func Resources() [access.Slots]access.Resource {
	return [access.Slots]access.Resource{
		{Name: "CODIGO", URL: AppScriptCodigo},
		{Name: "MAQUINA", URL: AppScriptMaquina},
		{Name: "MAESTRIA", URL: AppScriptMaestria},
	}
}

type EnvType interface {
	string | int | bool | time.Duration
}

func GetEnv[T EnvType](envName string, defaultValue T) T {
	value := os.Getenv(envName)
	if value == "" {
		return defaultValue
	}

	var ret any = defaultValue
	switch any(defaultValue).(type) {
	case string:
		ret = value
	case bool:
		i, err := strconv.ParseBool(value)
		if err == nil {
			ret = i
		}
	case int:
		i, err := strconv.Atoi(value)
		if err == nil {
			ret = i
		}
	case time.Duration:
		// plain numbers are seconds
		if i, err := strconv.Atoi(value); err == nil {
			ret = time.Duration(i) * time.Second
		} else if d, err := time.ParseDuration(value); err == nil {
			ret = d
		}
	}

	return ret.(T)
}

// ParseLevel accepts slog level names ("DEBUG", "WARN+2") and falls back to
// INFO.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
