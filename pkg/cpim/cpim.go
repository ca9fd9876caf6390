// Package cpim собирает и разбирает сообщения message/cpim (RFC 3862)
// с заголовками IMDN (RFC 5438).
package cpim

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// MimeType тип содержимого CPIM
const MimeType = "message/cpim"

// Значения imdn.Disposition-Notification
const (
	DispositionPositiveDelivery = "positive-delivery"
	DispositionNegativeDelivery = "negative-delivery"
	DispositionDisplay          = "display"
)

const (
	imdnNamespace = "imdn <urn:ietf:params:imdn>"
	anonymousURI  = "<sip:anonymous@anonymous.invalid>"
)

// ErrMalformed возвращается при разборе некорректного сообщения
var ErrMalformed = errors.New("cpim: malformed message")

// Message представляет CPIM обертку мгновенного сообщения
type Message struct {
	From      string
	To        string
	DateTime  time.Time
	MessageID string
	// Disposition запрошенные уведомления о доставке
	Disposition []string

	ContentType string
	// ContentDisposition например "notification" для IMDN
	ContentDisposition string
	Content            []byte
}

// Build сериализует сообщение
func (m *Message) Build() []byte {
	var b bytes.Buffer
	from := m.From
	if from == "" {
		from = anonymousURI
	}
	to := m.To
	if to == "" {
		to = anonymousURI
	}
	fmt.Fprintf(&b, "From: %s\r\n", angle(from))
	fmt.Fprintf(&b, "To: %s\r\n", angle(to))
	if m.MessageID != "" || len(m.Disposition) > 0 {
		fmt.Fprintf(&b, "NS: %s\r\n", imdnNamespace)
	}
	if m.MessageID != "" {
		fmt.Fprintf(&b, "imdn.Message-ID: %s\r\n", m.MessageID)
	}
	if !m.DateTime.IsZero() {
		fmt.Fprintf(&b, "DateTime: %s\r\n", m.DateTime.UTC().Format(time.RFC3339))
	}
	if len(m.Disposition) > 0 {
		fmt.Fprintf(&b, "imdn.Disposition-Notification: %s\r\n", strings.Join(m.Disposition, ", "))
	}
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "Content-type: %s\r\n", m.ContentType)
	if m.ContentDisposition != "" {
		fmt.Fprintf(&b, "Content-Disposition: %s\r\n", m.ContentDisposition)
	}
	fmt.Fprintf(&b, "Content-length: %d\r\n", len(m.Content))
	b.WriteString("\r\n")
	b.Write(m.Content)
	return b.Bytes()
}

// WantsDelivery сообщает, запросил ли отправитель уведомление о доставке
func (m *Message) WantsDelivery() bool {
	return m.wants(DispositionPositiveDelivery)
}

// WantsDisplay сообщает, запросил ли отправитель уведомление о прочтении
func (m *Message) WantsDisplay() bool {
	return m.wants(DispositionDisplay)
}

func (m *Message) wants(d string) bool {
	for _, v := range m.Disposition {
		if strings.EqualFold(v, d) {
			return true
		}
	}
	return false
}

// Parse разбирает CPIM сообщение: заголовки сообщения, пустая строка,
// заголовки содержимого, пустая строка, содержимое.
func Parse(data []byte) (*Message, error) {
	r := bufio.NewReader(bytes.NewReader(data))

	msgHeaders, err := readHeaders(r)
	if err != nil {
		return nil, err
	}
	contentHeaders, err := readHeaders(r)
	if err != nil {
		return nil, err
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read cpim content")
	}

	m := &Message{
		From:               msgHeaders["from"],
		To:                 msgHeaders["to"],
		MessageID:          msgHeaders["imdn.message-id"],
		ContentType:        contentHeaders["content-type"],
		ContentDisposition: contentHeaders["content-disposition"],
	}
	if dt := msgHeaders["datetime"]; dt != "" {
		if t, err := time.Parse(time.RFC3339, dt); err == nil {
			m.DateTime = t
		}
	}
	if d := msgHeaders["imdn.disposition-notification"]; d != "" {
		for _, v := range strings.Split(d, ",") {
			m.Disposition = append(m.Disposition, strings.TrimSpace(v))
		}
	}

	if l := contentHeaders["content-length"]; l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return nil, errors.Wrapf(ErrMalformed, "bad content-length %q", l)
		}
		if n < len(content) {
			content = content[:n]
		}
	}
	m.Content = content
	return m, nil
}

// readHeaders читает блок заголовков до пустой строки.
// Имена приводятся к нижнему регистру.
func readHeaders(r *bufio.Reader) (map[string]string, error) {
	headers := make(map[string]string)
	for {
		line, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, errors.Wrap(err, "failed to read cpim header")
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if err == io.EOF && len(headers) == 0 {
				return nil, errors.Wrap(ErrMalformed, "unexpected end of headers")
			}
			return headers, nil
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, errors.Wrapf(ErrMalformed, "bad header line %q", line)
		}
		headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
		if err == io.EOF {
			return headers, nil
		}
	}
}

func angle(uri string) string {
	if strings.HasPrefix(uri, "<") {
		return uri
	}
	return "<" + uri + ">"
}
