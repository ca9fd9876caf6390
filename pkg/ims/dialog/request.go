package dialog

import (
	"strings"

	"github.com/emiago/sipgo/sip"
)

// Заголовки и значения, используемые сессиями RCS
const (
	HeaderContributionID  = "Contribution-ID"
	HeaderAcceptContact   = "Accept-Contact"
	HeaderRequire         = "Require"
	HeaderAssertedID      = "P-Asserted-Identity"
	HeaderPreferredID     = "P-Preferred-Identity"
	HeaderSessionReplaces = "Session-Replaces"

	RequireRecipientList = "recipient-list-invite"

	FeatureTagIM      = "+g.oma.sip-im"
	FeatureTagFTHTTP  = "+g.3gpp.iari-ref=\"urn%3Aurn-7%3A3gpp-application.ims.iari.rcs.fthttp\""
	MaxForwards       = 70
	defaultUserAgent  = "rcs_client"
	contentTypeHeader = "Content-Type"
)

// RequestOpt модифицирует собираемый запрос
type RequestOpt func(msg sip.Message)

// WithHeader добавляет заголовок к сообщению
func WithHeader(header sip.Header) RequestOpt {
	return func(msg sip.Message) {
		msg.AppendHeader(header)
	}
}

// WithHeaderString добавляет заголовок по имени и значению
func WithHeaderString(name, value string) RequestOpt {
	return func(msg sip.Message) {
		msg.AppendHeader(sip.NewHeader(name, value))
	}
}

// WithAcceptContact добавляет Accept-Contact с feature тегами
func WithAcceptContact(tags ...string) RequestOpt {
	return func(msg sip.Message) {
		if len(tags) == 0 {
			return
		}
		msg.AppendHeader(sip.NewHeader(HeaderAcceptContact, "*;"+strings.Join(tags, ";")))
	}
}

// WithContributionID добавляет заголовок Contribution-ID
func WithContributionID(id string) RequestOpt {
	return WithHeaderString(HeaderContributionID, id)
}

// WithBody устанавливает тело и Content-Type
func WithBody(b Body) RequestOpt {
	return func(msg sip.Message) {
		if b.IsEmpty() {
			return
		}
		switch m := msg.(type) {
		case *sip.Request:
			m.RemoveHeader(contentTypeHeader)
		case *sip.Response:
			m.RemoveHeader(contentTypeHeader)
		}
		ct := sip.ContentTypeHeader(b.ContentType())
		msg.AppendHeader(&ct)
		msg.SetBody(b.Content())
	}
}

// NewRequest создает запрос в контексте диалога с текущим значением CSeq.
// Вызывающий увеличивает CSeq через IncrementCSeq перед повторной отправкой.
func (p *Path) NewRequest(method sip.RequestMethod, opts ...RequestOpt) *sip.Request {
	p.mu.RLock()
	reqURI := p.target
	if p.remoteTarget.Host != "" {
		reqURI = p.remoteTarget
	}
	localTag := p.localTag
	remoteTag := p.remoteTag
	route := make([]sip.Uri, len(p.route))
	copy(route, p.route)
	p.mu.RUnlock()

	req := sip.NewRequest(method, reqURI)

	from := &sip.FromHeader{
		DisplayName: p.profile.DisplayName,
		Address:     p.localParty,
		Params:      sip.NewParams(),
	}
	from.Params.Add("tag", localTag)
	req.AppendHeader(from)

	to := &sip.ToHeader{
		Address: p.remoteParty,
		Params:  sip.NewParams(),
	}
	if remoteTag != "" {
		to.Params.Add("tag", remoteTag)
	}
	req.AppendHeader(to)

	callID := p.callID
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: p.CSeq(), MethodName: method})

	maxfwd := sip.MaxForwardsHeader(MaxForwards)
	req.AppendHeader(&maxfwd)

	for _, r := range route {
		req.AppendHeader(&sip.RouteHeader{Address: r})
	}

	if method != sip.ACK && method != sip.CANCEL && p.profile.Contact.Host != "" {
		req.AppendHeader(p.profile.ContactHeader())
	}

	ua := p.profile.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.AppendHeader(sip.NewHeader("User-Agent", ua))

	for _, opt := range opts {
		opt(req)
	}
	return req
}

// NewAck создает ACK на 2xx ответ. CSeq совпадает с CSeq INVITE.
func (p *Path) NewAck() *sip.Request {
	return p.NewRequest(sip.ACK)
}

// NewBye создает BYE с увеличенным CSeq
func (p *Path) NewBye() *sip.Request {
	p.IncrementCSeq()
	return p.NewRequest(sip.BYE)
}

// NewMessage создает MESSAGE с телом
func (p *Path) NewMessage(b Body, opts ...RequestOpt) *sip.Request {
	return p.NewRequest(sip.MESSAGE, append([]RequestOpt{WithBody(b)}, opts...)...)
}

// NewInvite создает INVITE с телом и запоминает его в диалоге
func (p *Path) NewInvite(b Body, opts ...RequestOpt) *sip.Request {
	req := p.NewRequest(sip.INVITE, append([]RequestOpt{WithBody(b)}, opts...)...)
	p.SetLocalContent(b)
	p.SetInvite(req)
	return req
}

// NewResponse создает ответ на входящий запрос с локальным тегом диалога
func (p *Path) NewResponse(req *sip.Request, code int, reason string, b Body) *sip.Response {
	var content []byte
	if !b.IsEmpty() {
		content = b.Content()
	}
	resp := sip.NewResponseFromRequest(req, code, reason, nil)
	if code > 100 {
		_, tagged := req.To().Params.Get("tag")
		if to := resp.To(); to != nil && !tagged {
			if to.Params == nil {
				to.Params = sip.NewParams()
			}
			to.Params.Add("tag", p.LocalTag())
		}
	}
	if code >= 200 && code < 300 && req.Method == sip.INVITE && p.profile.Contact.Host != "" {
		resp.AppendHeader(p.profile.ContactHeader())
	}
	if content != nil {
		ct := sip.ContentTypeHeader(b.ContentType())
		resp.AppendHeader(&ct)
		resp.SetBody(content)
	}
	return resp
}

// AssertedIdentity возвращает идентичность отправителя из P-Asserted-Identity,
// а при его отсутствии из From. Никогда не возвращает nil.
func AssertedIdentity(req *sip.Request) *sip.Uri {
	if h := req.GetHeader(HeaderAssertedID); h != nil {
		if uri := extractURI(h.Value()); uri != nil {
			return uri
		}
	}
	if from := req.From(); from != nil {
		uri := from.Address
		return &uri
	}
	return &sip.Uri{}
}

// InstanceID возвращает значение +sip.instance из Contact запроса
func InstanceID(req *sip.Request) string {
	contact := req.Contact()
	if contact == nil {
		return ""
	}
	v, _ := contact.Params.Get("+sip.instance")
	v = strings.Trim(v, "\"")
	return strings.TrimSuffix(strings.TrimPrefix(v, "<"), ">")
}
