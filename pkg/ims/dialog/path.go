package dialog

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"
)

// Path представляет контекст SIP диалога одного обмена (сессии или одиночного запроса).
//
// Call-ID назначается при создании и больше не меняется. CSeq строго возрастает:
// каждая повторная отправка запроса в том же диалоге увеличивает счетчик.
//
// Path принадлежит горутине сессии, но геттеры безопасны для чтения из других горутин.
type Path struct {
	callID      sip.CallIDHeader
	profile     *Profile
	target      sip.Uri
	localParty  sip.Uri
	remoteParty sip.Uri

	mu            sync.RWMutex
	localTag      string
	remoteTag     string
	remoteTarget  sip.Uri
	route         []sip.Uri
	localContent  Body
	remoteContent Body
	authRealm     string
	authNonce     string
	invite        *sip.Request

	cseq atomic.Uint32
}

// NewOriginatingPath создает контекст исходящего диалога.
// CSeq начинается с 1, маршрут берется из Service-Route профиля.
func NewOriginatingPath(profile *Profile, target, remoteParty sip.Uri) *Path {
	p := &Path{
		callID:      sip.CallIDHeader(NewCallID(profile.Contact.Host)),
		profile:     profile,
		target:      target,
		localParty:  profile.PublicURI,
		remoteParty: remoteParty,
		localTag:    NewTag(),
	}
	p.route = append(p.route, profile.ServiceRoute...)
	p.cseq.Store(1)
	return p
}

// NewTerminatingPath создает контекст входящего диалога из полученного INVITE.
// From/To для сервера инвертированы.
func NewTerminatingPath(profile *Profile, req *sip.Request) (*Path, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	callID := req.CallID()
	from := req.From()
	to := req.To()
	cseq := req.CSeq()
	if callID == nil || from == nil || to == nil || cseq == nil {
		return nil, errors.New("request is missing mandatory dialog headers")
	}
	if err := validateCallID(callID.Value()); err != nil {
		return nil, err
	}
	if err := validateCSeq(cseq.SeqNo); err != nil {
		return nil, err
	}

	p := &Path{
		callID:      *callID,
		profile:     profile,
		target:      from.Address,
		localParty:  to.Address,
		remoteParty: from.Address,
		localTag:    NewTag(),
		invite:      req,
	}
	p.remoteTag, _ = from.Params.Get("tag")
	p.cseq.Store(cseq.SeqNo)

	if contact := req.Contact(); contact != nil {
		p.remoteTarget = contact.Address
	}

	// Маршрут для UAS берется из Record-Route в прямом порядке
	p.route = recordRoute(req.GetHeaders("Record-Route"), false)

	if body := req.Body(); len(body) > 0 {
		ct := ""
		if h := req.ContentType(); h != nil {
			ct = h.Value()
		}
		p.remoteContent = NewBody(ct, body)
	}
	return p, nil
}

// CallID возвращает Call-ID диалога
func (p *Path) CallID() string {
	return p.callID.Value()
}

func (p *Path) Profile() *Profile {
	return p.profile
}

func (p *Path) Target() sip.Uri {
	return p.target
}

func (p *Path) LocalParty() sip.Uri {
	return p.localParty
}

func (p *Path) RemoteParty() sip.Uri {
	return p.remoteParty
}

func (p *Path) LocalTag() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.localTag
}

func (p *Path) RemoteTag() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remoteTag
}

// CSeq возвращает текущее значение счетчика
func (p *Path) CSeq() uint32 {
	return p.cseq.Load()
}

// IncrementCSeq увеличивает счетчик и возвращает новое значение
func (p *Path) IncrementCSeq() uint32 {
	return p.cseq.Add(1)
}

// RemoteTarget возвращает Contact удаленной стороны, если он известен
func (p *Path) RemoteTarget() sip.Uri {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remoteTarget
}

// Route возвращает копию маршрута
func (p *Path) Route() []sip.Uri {
	p.mu.RLock()
	defer p.mu.RUnlock()
	route := make([]sip.Uri, len(p.route))
	copy(route, p.route)
	return route
}

func (p *Path) SetLocalContent(b Body) {
	p.mu.Lock()
	p.localContent = b
	p.mu.Unlock()
}

func (p *Path) LocalContent() Body {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.localContent
}

func (p *Path) SetRemoteContent(b Body) {
	p.mu.Lock()
	p.remoteContent = b
	p.mu.Unlock()
}

func (p *Path) RemoteContent() Body {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remoteContent
}

// SetAuthCache сохраняет realm и nonce последнего вызова аутентификации
func (p *Path) SetAuthCache(realm, nonce string) {
	p.mu.Lock()
	p.authRealm = realm
	p.authNonce = nonce
	p.mu.Unlock()
}

// AuthCache возвращает сохраненные realm и nonce
func (p *Path) AuthCache() (realm, nonce string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.authRealm, p.authNonce
}

// SetInvite запоминает начальный INVITE диалога
func (p *Path) SetInvite(req *sip.Request) {
	p.mu.Lock()
	p.invite = req
	p.mu.Unlock()
}

func (p *Path) Invite() *sip.Request {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.invite
}

// Confirm обновляет диалог по финальному 2xx ответу на INVITE:
// удаленный тег, Contact, маршрут (Record-Route в обратном порядке) и тело.
func (p *Path) Confirm(resp *sip.Response) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if to := resp.To(); to != nil {
		if tag, ok := to.Params.Get("tag"); ok && tag != "" {
			p.remoteTag = tag
		}
	}
	if contact := resp.Contact(); contact != nil {
		p.remoteTarget = contact.Address
	}
	if rr := resp.GetHeaders("Record-Route"); len(rr) > 0 {
		p.route = recordRoute(rr, true)
	}
	if body := resp.Body(); len(body) > 0 {
		ct := ""
		if h := resp.ContentType(); h != nil {
			ct = h.Value()
		}
		p.remoteContent = NewBody(ct, body)
	}
}

// String возвращает краткое описание диалога для логов
func (p *Path) String() string {
	return fmt.Sprintf("%s;local-tag=%s;remote-tag=%s", p.CallID(), p.LocalTag(), p.RemoteTag())
}

// recordRoute извлекает URI из заголовков Record-Route.
// Для UAC порядок обращается.
func recordRoute(headers []sip.Header, reverse bool) []sip.Uri {
	route := make([]sip.Uri, 0, len(headers))
	for _, h := range headers {
		if rr, ok := h.(*sip.RecordRouteHeader); ok {
			route = append(route, rr.Address)
			continue
		}
		if uri := extractURI(h.Value()); uri != nil {
			route = append(route, *uri)
		}
	}
	if reverse {
		for i, j := 0, len(route)-1; i < j; i, j = i+1, j-1 {
			route[i], route[j] = route[j], route[i]
		}
	}
	return route
}

// extractURI извлекает URI из значения заголовка вида "<sip:...>;params"
func extractURI(value string) *sip.Uri {
	start, end := -1, -1
	for i, ch := range value {
		if ch == '<' {
			start = i + 1
		} else if ch == '>' && start != -1 {
			end = i
			break
		}
	}

	var uri sip.Uri
	if start != -1 && end > start {
		if err := sip.ParseUri(value[start:end], &uri); err == nil {
			return &uri
		}
		return nil
	}
	if err := sip.ParseUri(value, &uri); err == nil {
		return &uri
	}
	return nil
}
