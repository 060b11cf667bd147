// utils/safelog.go
// ============================================================================
// SAFE LOGGING - masks recipients, plates and amounts in production logs
// ============================================================================

package utils

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

var (
	// IsProduction switches masking on.
	IsProduction = os.Getenv("GIN_MODE") == "release" ||
		os.Getenv("ENVIRONMENT") == "production" ||
		os.Getenv("ENV") == "production"

	// LogLevel filters Safe* output (DEBUG, INFO, WARN, ERROR).
	LogLevel = ParseLogLevel(os.Getenv("LOG_LEVEL"))
)

const (
	LogLevelDebug = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func ParseLogLevel(level string) int {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return LogLevelDebug
	case "WARN", "WARNING":
		return LogLevelWarn
	case "ERROR":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// ============================================================================
// MASKING PATTERNS
// ============================================================================

var (
	emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	// Colón amounts as the dashboard prints them: ₡125,000 or CRC 125000.
	colonAmountRegex = regexp.MustCompile(`(₡\s?|CRC\s?)\d[\d.,\s]*\d|₡\s?\d`)

	// Costa Rican plates: particular (123456, ABC123) and commercial (C173325, CL-123456).
	plateRegex = regexp.MustCompile(`\b(?:[A-Z]{1,3}-?\d{3,6}|\d{6})\b`)

	// Provider keys that end up in error strings.
	apiKeyRegex = regexp.MustCompile(`\b(?:re_[A-Za-z0-9_]{8,}|SG\.[A-Za-z0-9_.-]{10,})`)

	uuidRegex = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
)

// ============================================================================
// MASKING
// ============================================================================

// MaskString hides sensitive values in a log line when in production.
func MaskString(input string) string {
	if !IsProduction {
		return input
	}
	result := apiKeyRegex.ReplaceAllString(input, "***KEY***")
	result = emailRegex.ReplaceAllString(result, "***@***.***")
	result = uuidRegex.ReplaceAllStringFunc(result, func(id string) string { return id[:8] + "..." })
	result = colonAmountRegex.ReplaceAllString(result, "₡***")
	result = plateRegex.ReplaceAllStringFunc(result, MaskPlate)
	return result
}

// MaskPlate keeps the first two characters of a plate.
func MaskPlate(plate string) string {
	if !IsProduction {
		return plate
	}
	if len(plate) <= 2 {
		return "***"
	}
	return plate[:2] + strings.Repeat("*", len(plate)-2)
}

// MaskID keeps the first 8 characters of an id.
func MaskID(id string) string {
	if !IsProduction {
		return id
	}
	if len(id) <= 8 {
		return "***"
	}
	return id[:8] + "..."
}

func MaskEmail(email string) string {
	if !IsProduction {
		return email
	}
	return "***@***.***"
}

// ============================================================================
// SAFE LOGGING
// ============================================================================

func SafeLog(format string, args ...interface{}) {
	log.Print(MaskString(fmt.Sprintf(format, args...)))
}

func SafeDebug(format string, args ...interface{}) {
	if LogLevel > LogLevelDebug {
		return
	}
	log.Printf("[DEBUG] %s", MaskString(fmt.Sprintf(format, args...)))
}

func SafeInfo(format string, args ...interface{}) {
	if LogLevel > LogLevelInfo {
		return
	}
	log.Printf("[INFO] %s", MaskString(fmt.Sprintf(format, args...)))
}

func SafeWarn(format string, args ...interface{}) {
	if LogLevel > LogLevelWarn {
		return
	}
	log.Printf("[WARN] %s", MaskString(fmt.Sprintf(format, args...)))
}

func SafeError(format string, args ...interface{}) {
	log.Printf("[ERROR] %s", MaskString(fmt.Sprintf(format, args...)))
}

// ============================================================================
// DOMAIN LOGGING
// ============================================================================

// LogFleetAction logs a change to one of the fleet collections.
func LogFleetAction(action, collection, key string) {
	if len(key) == 36 {
		key = MaskID(key)
	} else {
		key = MaskPlate(key)
	}
	log.Printf("[Fleet] %s - %s: %s", action, collection, key)
}

// LogEmailRelay logs the outcome of a relayed report email.
func LogEmailRelay(transport, recipient string, success bool) {
	status := "SUCCESS"
	if !success {
		status = "FAILED"
	}
	log.Printf("[Email] %s - To: %s Status: %s", transport, MaskEmail(recipient), status)
}

func GetEnvMode() string {
	if IsProduction {
		return "production"
	}
	return "development"
}

// LogStartup prints the startup banner.
func LogStartup(appName, version, port string) {
	log.Printf("🚀 %s v%s starting...", appName, version)
	log.Printf("   Mode: %s", GetEnvMode())
	log.Printf("   Port: %s", port)
	log.Printf("   Log Level: %d", LogLevel)
	if IsProduction {
		log.Printf("   ⚠️  Production mode: sensitive data will be masked in logs")
	}
}
