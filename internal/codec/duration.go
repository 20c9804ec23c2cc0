package codec

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseISODuration parses a subset of ISO-8601 durations (PnYnMnDTnHnMnS)
// sufficient for the bridge's needs: years/months are treated as exact
// 365/30-day multiples (no calendar context is available on the wire),
// fractional seconds are preserved to millisecond precision.
func ParseISODuration(s string) (time.Duration, error) {
	if s == "" || s[0] != 'P' {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
	}

	neg := false
	rest := s[1:]
	if strings.HasPrefix(rest, "-") {
		neg = true
		rest = rest[1:]
	}

	datePart, timePart, hasTime := strings.Cut(rest, "T")
	if !hasTime {
		datePart = rest
	}

	var total time.Duration
	var err error

	total, err = accumulate(total, datePart, map[byte]time.Duration{
		'Y': 365 * 24 * time.Hour,
		'M': 30 * 24 * time.Hour,
		'D': 24 * time.Hour,
	})
	if err != nil {
		return 0, err
	}

	if hasTime {
		total, err = accumulate(total, timePart, map[byte]time.Duration{
			'H': time.Hour,
			'M': time.Minute,
			'S': time.Second,
		})
		if err != nil {
			return 0, err
		}
	}

	if neg {
		total = -total
	}
	return total, nil
}

func accumulate(total time.Duration, part string, units map[byte]time.Duration) (time.Duration, error) {
	numStart := 0
	for i := 0; i < len(part); i++ {
		c := part[i]
		if c >= '0' && c <= '9' || c == '.' {
			continue
		}
		unit, ok := units[c]
		if !ok {
			return 0, fmt.Errorf("unrecognized duration designator %q", string(c))
		}
		numStr := part[numStart:i]
		n, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration component %q: %w", numStr, err)
		}
		total += time.Duration(n * float64(unit))
		numStart = i + 1
	}
	return total, nil
}

// FormatISODuration renders d in a normalized PnDTnHnMnS form with
// fractional seconds preserved.
func FormatISODuration(d time.Duration) string {
	neg := d < 0
	if neg {
		d = -d
	}

	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d.Seconds()

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteByte('P')
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if hours > 0 || minutes > 0 || seconds > 0 {
		b.WriteByte('T')
		if hours > 0 {
			fmt.Fprintf(&b, "%dH", hours)
		}
		if minutes > 0 {
			fmt.Fprintf(&b, "%dM", minutes)
		}
		if seconds > 0 {
			b.WriteString(strconv.FormatFloat(seconds, 'f', -1, 64))
			b.WriteByte('S')
		}
	}
	if b.Len() == 1 || (neg && b.Len() == 2) {
		b.WriteString("0D")
	}
	return b.String()
}

// DecodeBase64 decodes standard base64 (with padding) as used by
// xs:base64Binary values.
func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// EncodeBase64 encodes bytes using standard base64 (with padding) for
// xs:base64Binary JSON values.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// EncodeBase64URLNoPad encodes using URL-safe base64 without padding, per
// the AAS `encode_identifiers` submodel-id convention (§6).
func EncodeBase64URLNoPad(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

// DecodeBase64URLNoPad decodes a URL-safe, unpadded base64 string.
func DecodeBase64URLNoPad(s string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
