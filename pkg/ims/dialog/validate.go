package dialog

import (
	"net"
	"regexp"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"
)

const (
	maxCallIDLength      = 256
	maxDisplayNameLength = 128
	maxCSeq              = 1<<31 - 1
)

var (
	domainPattern  = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)*[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?$`)
	sipUserPattern = regexp.MustCompile(`^[a-zA-Z0-9\-_.!~*'()&=+$,;?/%]+$`)
	telPattern     = regexp.MustCompile(`^\+?[0-9\-.()]+$`)
)

// ValidateURI проверяет адрес участника: sip/sips с корректным хостом
// или tel с номером
func ValidateURI(uri sip.Uri) error {
	switch strings.ToLower(uri.Scheme) {
	case "sip", "sips":
	case "tel":
		number := uri.User
		if number == "" {
			number = uri.Host
		}
		if !telPattern.MatchString(number) {
			return errors.Errorf("invalid tel number %q", number)
		}
		return nil
	default:
		return errors.Errorf("unsupported uri scheme %q", uri.Scheme)
	}

	if uri.Host == "" {
		return errors.New("uri has no host")
	}
	if net.ParseIP(strings.Trim(uri.Host, "[]")) == nil && !domainPattern.MatchString(uri.Host) {
		return errors.Errorf("invalid host %q", uri.Host)
	}
	if uri.Port < 0 || uri.Port > 65535 {
		return errors.Errorf("invalid port %d", uri.Port)
	}
	if uri.User != "" && !sipUserPattern.MatchString(uri.User) {
		return errors.Errorf("invalid user part %q", uri.User)
	}
	return nil
}

// validateCallID Call-ID без пробелов и управляющих символов, не длиннее 256
func validateCallID(callID string) error {
	if callID == "" {
		return errors.New("empty Call-ID")
	}
	if len(callID) > maxCallIDLength {
		return errors.New("Call-ID is too long")
	}
	for _, r := range callID {
		if r < 32 || r == 127 || r == ' ' {
			return errors.New("Call-ID contains invalid characters")
		}
	}
	return nil
}

func validateCSeq(seq uint32) error {
	if seq > maxCSeq {
		return errors.Errorf("CSeq %d is out of range", seq)
	}
	return nil
}

// SanitizeDisplayName удаляет управляющие символы, кавычки и угловые скобки
// и ограничивает длину
func SanitizeDisplayName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 || r == '"' || r == '<' || r == '>' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if len(name) > maxDisplayNameLength {
		name = name[:maxDisplayNameLength]
	}
	return name
}
