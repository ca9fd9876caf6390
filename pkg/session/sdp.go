package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pkg/errors"
)

// ContentTypeSDP тип содержимого описания сессии
const ContentTypeSDP = "application/sdp"

const (
	msrpDefaultPort    = 9
	acceptTypes        = "message/cpim application/im-iscomposing+xml"
	acceptWrappedTypes = "text/plain message/imdn+xml"
	setupActive        = "active"
	setupPassive       = "passive"
)

// chatMedia параметры MSRP канала чат сессии
type chatMedia struct {
	Host  string
	Port  int
	Path  string
	Setup string
}

// newChatMedia создает параметры локального MSRP канала
func newChatMedia(host string, sessionID string, setup string) chatMedia {
	if host == "" {
		host = "127.0.0.1"
	}
	return chatMedia{
		Host:  host,
		Port:  msrpDefaultPort,
		Path:  fmt.Sprintf("msrp://%s:%d/%s;tcp", host, msrpDefaultPort, strings.ReplaceAll(sessionID, "-", "")),
		Setup: setup,
	}
}

// buildChatSDP создает описание сессии с одной строкой m=message
func buildChatSDP(m chatMedia) ([]byte, error) {
	now := uint64(time.Now().Unix())
	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      now,
			SessionVersion: now,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: m.Host,
		},
		SessionName: "-",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: m.Host},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "message",
			Port:    sdp.RangedPort{Value: m.Port},
			Protos:  []string{"TCP", "MSRP"},
			Formats: []string{"*"},
		},
	}
	media.Attributes = []sdp.Attribute{
		sdp.NewAttribute("accept-types", acceptTypes),
		sdp.NewAttribute("accept-wrapped-types", acceptWrappedTypes),
		sdp.NewAttribute("setup", m.Setup),
		sdp.NewAttribute("path", m.Path),
		sdp.NewPropertyAttribute("sendrecv"),
	}
	desc.MediaDescriptions = []*sdp.MediaDescription{media}

	data, err := desc.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal chat sdp")
	}
	return data, nil
}

// parseChatSDP извлекает параметры MSRP канала удаленной стороны
func parseChatSDP(data []byte) (chatMedia, error) {
	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal(data); err != nil {
		return chatMedia{}, errors.Wrap(err, "failed to parse sdp")
	}

	var m chatMedia
	if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		m.Host = desc.ConnectionInformation.Address.Address
	}
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "message" {
			continue
		}
		m.Port = md.MediaName.Port.Value
		if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
			m.Host = md.ConnectionInformation.Address.Address
		}
		m.Path, _ = md.Attribute("path")
		m.Setup, _ = md.Attribute("setup")
		if m.Path == "" {
			return chatMedia{}, errors.New("message media has no path attribute")
		}
		return m, nil
	}
	return chatMedia{}, errors.New("sdp has no message media")
}

// answerSetup выбирает роль setup для ответа на предложение
func answerSetup(offer string) string {
	if offer == setupPassive {
		return setupActive
	}
	return setupPassive
}
