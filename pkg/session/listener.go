package session

import (
	"github.com/arzzra/rcs_client/pkg/cpim"
	"github.com/arzzra/rcs_client/pkg/transfer"
)

// Listener наблюдатель сессии. Вызовы выполняются в горутине сессии,
// панику и ошибки одного наблюдателя реестр изолирует от остальных.
//
// За жизненный цикл сессии приходит ровно одно терминальное уведомление:
// HandleSessionTerminated, HandleSessionTerminatedByRemote,
// HandleSessionAborted, HandleError или HandleFileTransferred.
type Listener interface {
	HandleSessionStarted(s Session)
	HandleSessionAborted(s Session, reason AbortReason)
	HandleSessionTerminated(s Session)
	HandleSessionTerminatedByRemote(s Session)
	HandleError(s Session, err *Error)

	// Расширение чата до группового
	HandleAddParticipantSuccessful(s Session)
	HandleAddParticipantFailed(s Session, reason string)

	HandleReceiveMessage(s Session, msg *cpim.Message)

	// Передача файлов
	HandleTransferProgress(s Session, done, total int64)
	HandleFileTransferred(s Session, info transfer.FileInfo)
}

// NopListener пустая реализация Listener для встраивания
type NopListener struct{}

func (NopListener) HandleSessionStarted(Session) {}
func (NopListener) HandleSessionAborted(Session, AbortReason) {}
func (NopListener) HandleSessionTerminated(Session) {}
func (NopListener) HandleSessionTerminatedByRemote(Session) {}
func (NopListener) HandleError(Session, *Error) {}
func (NopListener) HandleAddParticipantSuccessful(Session) {}
func (NopListener) HandleAddParticipantFailed(Session, string) {}
func (NopListener) HandleReceiveMessage(Session, *cpim.Message) {}
func (NopListener) HandleTransferProgress(Session, int64, int64) {}
func (NopListener) HandleFileTransferred(Session, transfer.FileInfo) {}

// CoreListener наблюдатель уровня каталога
type CoreListener interface {
	// HandleIncomingChatSession новая входящая чат сессия ждет решения пользователя
	HandleIncomingChatSession(s *ChatSession)
	// HandleIncomingFileTransfer новая входящая передача файла ждет решения пользователя
	HandleIncomingFileTransfer(s *FileTransferSession)
	// HandleOneOneChatSessionExtended чат один-на-один расширен до группового
	HandleOneOneChatSessionExtended(group *GroupChatSession, oneOne *ChatSession)
}

// NopCoreListener пустая реализация CoreListener
type NopCoreListener struct{}

func (NopCoreListener) HandleIncomingChatSession(*ChatSession) {}
func (NopCoreListener) HandleIncomingFileTransfer(*FileTransferSession) {}
func (NopCoreListener) HandleOneOneChatSessionExtended(*GroupChatSession, *ChatSession) {}
