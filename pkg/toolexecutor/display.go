package toolexecutor

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// MaxDisplayBytes caps the rendered output placed in a tool turn.
const MaxDisplayBytes = 16 * 1024

// DisplayText renders a tool outcome for humans and for the follow-up model call.
func DisplayText(name string, outcome ToolOutcome) string {
	if !outcome.Succeeded {
		return fmt.Sprintf("**%s Error**: %s", name, outcome.Error)
	}
	return fmt.Sprintf("**%s**: %s", name, truncate(FormatOutput(outcome.Output)))
}

// FormatOutput renders a tool's output. A map carrying "formatted_result" is shown by that field.
func FormatOutput(output interface{}) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case float64:
		return formatFloat(v)
	case float32:
		return formatFloat(float64(v))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, bool:
		return fmt.Sprint(v)
	case fmt.Stringer:
		return v.String()
	case map[string]interface{}:
		if formatted, ok := v["formatted_result"]; ok {
			return FormatOutput(formatted)
		}
	}

	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Sprint(output)
	}
	return string(data)
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func truncate(s string) string {
	if len(s) <= MaxDisplayBytes {
		return s
	}
	cut := MaxDisplayBytes
	// back up to a rune boundary
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + fmt.Sprintf("\n... (truncated, %d bytes total)", len(s))
}
