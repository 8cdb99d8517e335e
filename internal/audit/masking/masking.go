package masking

import "strings"

const maskToken = "****"

// sensitiveKeys hold references that identify a card, account or insurance policy.
var sensitiveKeys = map[string]struct{}{
	"payment_reference": {},
	"reference":         {},
	"policy_number":     {},
}

// MaskSecret redacts a value while keeping the last four characters for reconciliation.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 4 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskSensitive returns a copy of input with sensitive string values masked.
// Nested maps are walked; other values are copied as is.
func MaskSensitive(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		masked[trimmedKey] = maskValue(trimmedKey, value)
	}
	return masked
}

func maskValue(key string, value any) any {
	switch cast := value.(type) {
	case map[string]any:
		return MaskSensitive(cast)
	case string:
		if _, ok := sensitiveKeys[key]; ok {
			return MaskSecret(cast)
		}
		return cast
	case *string:
		if cast == nil {
			return nil
		}
		return maskValue(key, *cast)
	default:
		return value
	}
}
