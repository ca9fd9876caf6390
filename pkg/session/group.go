package session

import (
	"context"
	"encoding/xml"

	"github.com/pkg/errors"

	"github.com/arzzra/rcs_client/pkg/ims/dialog"
)

// ContentTypeResourceLists тип списка участников группового чата
const ContentTypeResourceLists = "application/resource-lists+xml"

const (
	resourceListsNamespace = "urn:ietf:params:xml:ns:resource-lists"
	dispositionRecipients  = "recipient-list"
)

type resourceEntry struct {
	URI string `xml:"uri,attr"`
}

type resourceList struct {
	XMLName xml.Name        `xml:"resource-lists"`
	Xmlns   string          `xml:"xmlns,attr"`
	Entries []resourceEntry `xml:"list>entry"`
}

// buildResourceList сериализует список участников
func buildResourceList(uris []string) ([]byte, error) {
	doc := resourceList{Xmlns: resourceListsNamespace}
	for _, u := range uris {
		doc.Entries = append(doc.Entries, resourceEntry{URI: u})
	}
	out, err := xml.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal resource list")
	}
	return append([]byte(xml.Header), out...), nil
}

// parseResourceList возвращает адреса участников из списка
func parseResourceList(data []byte) ([]string, error) {
	var doc resourceList
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse resource list")
	}
	uris := make([]string, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		uris = append(uris, e.URI)
	}
	return uris, nil
}

// replacesEntry адрес участника чата один-на-один, сессия которого
// заменяется групповой
func replacesEntry(contact, contributionID string) string {
	return contact + ";method=INVITE?" + dialog.HeaderSessionReplaces + "=" + contributionID
}

// GroupChatSession групповой чат через фабрику конференций. Если задан
// replaces, сессия расширяет существующий чат один-на-один.
type GroupChatSession struct {
	chatBase
	subject      string
	participants []string
	replaces     *ChatSession
}

// Participants возвращает участников в порядке приглашения
func (g *GroupChatSession) Participants() []string {
	out := make([]string, len(g.participants))
	copy(out, g.participants)
	return out
}

// Subject возвращает тему чата
func (g *GroupChatSession) Subject() string {
	return g.subject
}

// Replaces возвращает расширяемый чат один-на-один или nil
func (g *GroupChatSession) Replaces() *ChatSession {
	return g.replaces
}

// recipients список участников для resource-lists
func (g *GroupChatSession) recipients() []string {
	if g.replaces == nil {
		return g.Participants()
	}
	uris := []string{replacesEntry(g.replaces.Contact(), g.replaces.ContributionID())}
	for _, p := range g.participants {
		if p != g.replaces.Contact() {
			uris = append(uris, p)
		}
	}
	return uris
}

func (g *GroupChatSession) runOriginating(ctx context.Context) error {
	err := g.establish(ctx)
	if g.replaces != nil {
		g.reportExtension(err)
	}
	if err != nil {
		return err
	}
	return g.serve(ctx)
}

func (g *GroupChatSession) establish(ctx context.Context) error {
	list, err := buildResourceList(g.recipients())
	if err != nil {
		return newError(ErrorUnexpectedFailure, err, "failed to build recipient list")
	}
	body, err := g.offerBody(dialog.Part{
		ContentType: ContentTypeResourceLists,
		Disposition: dispositionRecipients,
		Content:     list,
	})
	if err != nil {
		return err
	}

	opts := []dialog.RequestOpt{
		dialog.WithContributionID(g.contributionID),
		dialog.WithAcceptContact(dialog.FeatureTagIM),
		dialog.WithHeaderString(dialog.HeaderRequire, dialog.RequireRecipientList),
	}
	if g.subject != "" {
		opts = append(opts, dialog.WithHeaderString("Subject", g.subject))
	}
	return g.invite(ctx, body, opts...)
}

// reportExtension уведомляет слушателей расширяемого чата. При успехе
// слушатели переносятся на групповую сессию, а наблюдатель каталога
// получает HandleOneOneChatSessionExtended.
func (g *GroupChatSession) reportExtension(err error) {
	old := g.replaces
	if err != nil {
		reason := err.Error()
		old.listeners.Notify("add_participant_failed", func(l Listener) error {
			l.HandleAddParticipantFailed(old, reason)
			return nil
		})
		return
	}

	old.listeners.Notify("add_participant_successful", func(l Listener) error {
		l.HandleAddParticipantSuccessful(old)
		return nil
	})
	old.listeners.Transfer(g.listeners)
	g.dir.core.Notify("one_one_chat_extended", func(l CoreListener) error {
		l.HandleOneOneChatSessionExtended(g, old)
		return nil
	})
}
