package dialog

import (
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

// Генераторы идентификаторов. Переменные, чтобы тесты могли подменять их.
var (
	newTag    = func() string { return sip.RandString(8) }
	newCallID = func() string { return uuid.NewString() }
)

// NewCallID генерирует уникальный Call-ID для нового обмена
func NewCallID(host string) string {
	if host == "" {
		return newCallID()
	}
	return newCallID() + "@" + host
}

// NewTag генерирует тег для заголовков From/To
func NewTag() string {
	return newTag()
}

// NewContributionID генерирует Contribution-ID чат сессии
func NewContributionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewMessageID генерирует идентификатор сообщения (Message-ID в CPIM/IMDN)
func NewMessageID() string {
	return "Msg" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// NewSessionID генерирует идентификатор сессии в каталоге
func NewSessionID() string {
	return uuid.NewString()
}
