package commands

import (
	"fmt"
	"log/slog"

	"github.com/arzzra/rcs_client/pkg/cpim"
	"github.com/arzzra/rcs_client/pkg/session"
	"github.com/arzzra/rcs_client/pkg/transfer"
)

// printer выводит события сессий в stdout
type printer struct {
	logger *slog.Logger
	// finished получает сессию после терминального события
	finished chan session.Session
}

func newPrinter(l *slog.Logger) *printer {
	return &printer{logger: l, finished: make(chan session.Session, 16)}
}

func (p *printer) done(s session.Session) {
	select {
	case p.finished <- s:
	default:
	}
}

func (p *printer) HandleSessionStarted(s session.Session) {
	fmt.Printf("[%s] сессия установлена с %s\n", s.ID(), s.Contact())
}

func (p *printer) HandleSessionAborted(s session.Session, reason session.AbortReason) {
	fmt.Printf("[%s] сессия прервана: %s\n", s.ID(), reason)
	p.done(s)
}

func (p *printer) HandleSessionTerminated(s session.Session) {
	fmt.Printf("[%s] сессия завершена\n", s.ID())
	p.done(s)
}

func (p *printer) HandleSessionTerminatedByRemote(s session.Session) {
	fmt.Printf("[%s] сессия завершена удаленной стороной\n", s.ID())
	p.done(s)
}

func (p *printer) HandleError(s session.Session, err *session.Error) {
	fmt.Printf("[%s] ошибка: %v\n", s.ID(), err)
	p.done(s)
}

func (p *printer) HandleAddParticipantSuccessful(s session.Session) {
	fmt.Printf("[%s] участники добавлены\n", s.ID())
}

func (p *printer) HandleAddParticipantFailed(s session.Session, reason string) {
	fmt.Printf("[%s] участники не добавлены: %s\n", s.ID(), reason)
}

func (p *printer) HandleReceiveMessage(s session.Session, msg *cpim.Message) {
	fmt.Printf("[%s] %s: %s\n", s.ID(), s.Contact(), msg.Content)
}

func (p *printer) HandleTransferProgress(s session.Session, done, total int64) {
	p.logger.Debug("Прогресс передачи", slog.String("session_id", s.ID()), slog.Int64("done", done), slog.Int64("total", total))
}

func (p *printer) HandleFileTransferred(s session.Session, info transfer.FileInfo) {
	fmt.Printf("[%s] файл %s передан (%d байт): %s\n", s.ID(), info.Name, info.Size, info.URL)
	p.done(s)
}

// HandleIncomingChatSession подключает printer к входящему чату
func (p *printer) HandleIncomingChatSession(s *session.ChatSession) {
	fmt.Printf("[%s] входящий чат от %s\n", s.ID(), s.Contact())
	s.AddListener(p)
}

// HandleIncomingFileTransfer подключает printer к входящей передаче файла
func (p *printer) HandleIncomingFileTransfer(s *session.FileTransferSession) {
	info := s.FileInfo()
	fmt.Printf("[%s] входящий файл %s (%s, %d байт) от %s\n", s.ID(), info.Name, info.MimeType, info.Size, s.Contact())
	s.AddListener(p)
}

func (p *printer) HandleOneOneChatSessionExtended(group *session.GroupChatSession, oneOne *session.ChatSession) {
	fmt.Printf("[%s] чат расширен до группового %s\n", oneOne.ID(), group.ID())
}
