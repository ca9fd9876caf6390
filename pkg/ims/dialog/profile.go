package dialog

import (
	"github.com/emiago/sipgo/sip"
)

// Profile представляет профиль локального пользователя IMS.
// Используется для идентификации в SIP сообщениях и установления контакта.
type Profile struct {
	// DisplayName - отображаемое имя пользователя (например, "Alice Smith")
	DisplayName string
	// PublicURI - публичный идентификатор пользователя (например, sip:+33600000000@ims.example.com)
	PublicURI sip.Uri
	// Contact - адрес, по которому пользователь доступен (host:port локального транспорта)
	Contact sip.Uri
	// InstanceID - значение параметра +sip.instance (опционально)
	InstanceID string
	// ServiceRoute - маршрут, полученный при регистрации
	ServiceRoute []sip.Uri
	// UserAgent - значение заголовка User-Agent
	UserAgent string
}

// ContactHeader создает заголовок Contact на основе профиля.
func (p *Profile) ContactHeader(featureTags ...string) *sip.ContactHeader {
	params := sip.NewParams()
	if p.InstanceID != "" {
		params = params.Add("+sip.instance", "\"<"+p.InstanceID+">\"")
	}
	for _, tag := range featureTags {
		params = params.Add(tag, "")
	}
	return &sip.ContactHeader{
		DisplayName: p.DisplayName,
		Address:     p.Contact,
		Params:      params,
	}
}

// Clone создает глубокую копию профиля.
// Используется для создания независимых копий при создании новых диалогов.
func (p *Profile) Clone() *Profile {
	clone := &Profile{
		DisplayName: p.DisplayName,
		PublicURI:   *p.PublicURI.Clone(),
		Contact:     *p.Contact.Clone(),
		InstanceID:  p.InstanceID,
		UserAgent:   p.UserAgent,
	}
	for _, r := range p.ServiceRoute {
		clone.ServiceRoute = append(clone.ServiceRoute, *r.Clone())
	}
	return clone
}
