package imdn

import (
	"encoding/xml"
	"time"

	"github.com/pkg/errors"
)

// ContentType тип содержимого уведомления
const ContentType = "message/imdn+xml"

// Статусы уведомлений
const (
	StatusDelivered = "delivered"
	StatusDisplayed = "displayed"
	StatusFailed    = "failed"
	StatusForbidden = "forbidden"
	StatusError     = "error"
)

type empty struct{}

type statusElem struct {
	Delivered *empty `xml:"delivered,omitempty"`
	Displayed *empty `xml:"displayed,omitempty"`
	Failed    *empty `xml:"failed,omitempty"`
	Forbidden *empty `xml:"forbidden,omitempty"`
	Error     *empty `xml:"error,omitempty"`
}

type notification struct {
	Status statusElem `xml:"status"`
}

// Document документ IMDN (RFC 5438)
type Document struct {
	XMLName   xml.Name      `xml:"urn:ietf:params:xml:ns:imdn imdn"`
	MessageID string        `xml:"message-id"`
	DateTime  string        `xml:"datetime,omitempty"`
	Delivery  *notification `xml:"delivery-notification,omitempty"`
	Display   *notification `xml:"display-notification,omitempty"`
}

// BuildDocument формирует документ уведомления для сообщения.
// displayed дает display-notification, остальные статусы delivery-notification.
func BuildDocument(msgID, status string, at time.Time) ([]byte, error) {
	doc := Document{MessageID: msgID, DateTime: at.UTC().Format(time.RFC3339)}

	n := &notification{}
	switch status {
	case StatusDisplayed:
		n.Status.Displayed = &empty{}
		doc.Display = n
	case StatusDelivered:
		n.Status.Delivered = &empty{}
		doc.Delivery = n
	case StatusFailed:
		n.Status.Failed = &empty{}
		doc.Delivery = n
	case StatusForbidden:
		n.Status.Forbidden = &empty{}
		doc.Delivery = n
	case StatusError:
		n.Status.Error = &empty{}
		doc.Delivery = n
	default:
		return nil, errors.Errorf("unknown delivery status %q", status)
	}

	out, err := xml.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal imdn document")
	}
	return append([]byte(xml.Header), out...), nil
}

// ParseDocument возвращает идентификатор сообщения и статус из документа
func ParseDocument(data []byte) (msgID, status string, err error) {
	var doc Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return "", "", errors.Wrap(err, "failed to parse imdn document")
	}

	n := doc.Delivery
	if n == nil {
		n = doc.Display
	}
	if n == nil {
		return "", "", errors.New("imdn document has no notification")
	}
	switch {
	case n.Status.Delivered != nil:
		status = StatusDelivered
	case n.Status.Displayed != nil:
		status = StatusDisplayed
	case n.Status.Failed != nil:
		status = StatusFailed
	case n.Status.Forbidden != nil:
		status = StatusForbidden
	case n.Status.Error != nil:
		status = StatusError
	default:
		return "", "", errors.New("imdn document has no status")
	}
	return doc.MessageID, status, nil
}
