package session

import (
	"context"
	"log/slog"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"

	"github.com/arzzra/rcs_client/pkg/cpim"
	"github.com/arzzra/rcs_client/pkg/imdn"
	"github.com/arzzra/rcs_client/pkg/ims/dialog"
	"github.com/arzzra/rcs_client/pkg/transfer"
)

// chatSender чат, через который доставляется описание файла
type chatSender interface {
	Session
	SendMessage(ctx context.Context, msg *cpim.Message) error
}

// FileTransferSession передача файла через HTTP сервер. Исходящая сессия
// загружает файл и отправляет его описание в чат, входящая скачивает файл
// по описанию из полученного сообщения.
type FileTransferSession struct {
	base

	// Исходящая передача
	content       transfer.Content
	thumbnail     []byte
	chatSessionID string

	// Входящая передача
	info       transfer.FileInfo
	msgID      string
	sender     sip.Uri
	instanceID string
	answerer   *ChannelAnswerer
	thumbData  []byte
}

// Content возвращает описание отправляемого файла
func (f *FileTransferSession) Content() transfer.Content {
	return f.content
}

// FileInfo возвращает описание входящего файла. После скачивания URL
// указывает на записанный файл.
func (f *FileTransferSession) FileInfo() transfer.FileInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info
}

// Thumbnail возвращает скачанную миниатюру входящего файла
func (f *FileTransferSession) Thumbnail() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.thumbData
}

// Accept принимает входящий файл
func (f *FileTransferSession) Accept() {
	f.answerer.Accept()
}

// Reject отклоняет входящий файл
func (f *FileTransferSession) Reject() {
	f.answerer.Reject()
}

// Progress возвращает прогресс передачи
func (f *FileTransferSession) Progress() (done, total int64) {
	f.base.mu.Lock()
	t := f.transfer
	f.base.mu.Unlock()
	if t == nil {
		return 0, 0
	}
	return t.Progress()
}

func (f *FileTransferSession) remoteCancel() {
	f.answerer.Cancel()
}

func (f *FileTransferSession) transferOptions() transfer.Options {
	return transfer.Options{
		Client:    f.dir.opts.HTTPClient,
		ChunkSize: f.dir.opts.Settings.FtChunkSize,
		Metrics:   f.dir.opts.Metrics,
		Logger:    f.logger,
		Progress: func(done, total int64) {
			f.listeners.Notify("transfer_progress", func(l Listener) error {
				l.HandleTransferProgress(f, done, total)
				return nil
			})
		},
	}
}

func (f *FileTransferSession) runOriginating(ctx context.Context) error {
	if err := f.transition(eventStart); err != nil {
		return err
	}

	s := f.dir.opts.Settings
	upload := transfer.NewUpload(f.transferOptions(), s.FtServerURL, s.FtServerLogin, s.FtServerPassword, f.content, f.thumbnail)
	f.setTransfer(upload)

	data, err := upload.Start(ctx)
	if err != nil {
		if upload.Cancelled() {
			return errLocalCancel
		}
		return newError(ErrorMediaUploadFailed, err, "upload failed")
	}
	info, err := transfer.ParseFileInfo(data)
	if err != nil {
		return newError(ErrorMediaUploadFailed, err, "server returned invalid file info")
	}
	f.mu.Lock()
	f.info = *info
	f.mu.Unlock()

	if err := f.transition(eventEstablish); err != nil {
		return err
	}
	if err := f.deliver(ctx, data); err != nil {
		return err
	}
	f.fileTransferred(*info)
	return nil
}

// deliver отправляет описание файла в существующий чат (по идентификатору,
// затем последний с тем же контактом) или открывает новый чат с описанием
// в качестве первого сообщения
func (f *FileTransferSession) deliver(ctx context.Context, fileInfo []byte) error {
	msg := f.dir.newMessage(transfer.FileInfoMimeType, fileInfo)

	if chat := f.dir.chatForTransfer(f.chatSessionID, f.contact); chat != nil {
		f.logger.Debug("Описание файла отправляется в существующий чат", slog.String("chat_id", chat.ID()))
		if err := chat.SendMessage(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return newError(ErrorUnexpectedFailure, err, "failed to send file info to chat %s", chat.ID())
		}
		return nil
	}

	chat, err := f.dir.newOneOneChat(f.contact, msg)
	if err != nil {
		return newError(ErrorUnexpectedFailure, err, "failed to open chat for file info")
	}
	chat.skipHistory = true
	chat.recordSession(chat.firstRecord())
	f.logger.Debug("Описание файла отправляется в новом чате", slog.String("chat_id", chat.ID()))
	chat.Start()
	return nil
}

func (f *FileTransferSession) runTerminating(ctx context.Context) error {
	info := f.FileInfo()
	if !f.dir.opts.Settings.FileTypeSupported(info.MimeType) {
		return newError(ErrorUnsupportedMediaType, nil, "unsupported file type %q", info.MimeType)
	}
	if err := f.transition(eventStart); err != nil {
		return err
	}

	download := transfer.NewDownload(f.transferOptions(), info, f.dir.opts.Settings.DownloadDir)
	f.setTransfer(download)

	if info.Thumbnail != nil {
		thumb, err := download.DownloadThumbnail(ctx)
		if err != nil {
			f.logger.Warn("Не удалось скачать миниатюру", slog.Any("error", err))
		}
		f.mu.Lock()
		f.thumbData = thumb
		f.mu.Unlock()
	}

	if !f.dir.opts.Settings.FtAutoAccept {
		switch answer := f.answerer.WaitForAnswer(ctx, f.dir.opts.Settings.InvitationTimeout); answer {
		case AnswerRejected:
			return aborted(AbortByUser)
		case AnswerTimedOut:
			return aborted(AbortByTimeout)
		case AnswerCanceled:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return aborted(AbortByRemote)
		}
	}

	if err := f.transition(eventEstablish); err != nil {
		return err
	}
	f.notifyStarted()

	path, err := download.Start(ctx)
	if err != nil {
		if download.Cancelled() {
			return errLocalCancel
		}
		return newError(ErrorMediaDownloadFailed, err, "download failed")
	}

	f.mu.Lock()
	f.info.URL = path
	info = f.info
	f.mu.Unlock()
	f.fileTransferred(info)

	if f.msgID != "" && f.dir.opts.Notifier != nil {
		f.dir.opts.Notifier.SendImmediately(imdn.DeliveryStatus{
			Contact:    f.sender.String(),
			MsgID:      f.msgID,
			Status:     imdn.StatusDisplayed,
			InstanceID: f.instanceID,
		})
	}
	return nil
}

// parseFileMessage извлекает описание файла из входящего MESSAGE
func parseFileMessage(req *sip.Request) (*cpim.Message, *transfer.FileInfo, error) {
	msg, err := parseIncoming(req)
	if err != nil {
		return nil, nil, err
	}
	if !isFileInfo(msg) {
		return msg, nil, nil
	}
	info, err := transfer.ParseFileInfo(msg.Content)
	if err != nil {
		return msg, nil, errors.Wrap(err, "invalid file info")
	}
	return msg, info, nil
}

// setInbound заполняет поля входящей передачи из запроса
func (f *FileTransferSession) setInbound(req *sip.Request, msg *cpim.Message, info *transfer.FileInfo) {
	f.info = *info
	f.msgID = msg.MessageID
	f.sender = *dialog.AssertedIdentity(req)
	f.instanceID = dialog.InstanceID(req)
}

func isFileInfo(msg *cpim.Message) bool {
	return strings.HasPrefix(strings.ToLower(msg.ContentType), transfer.FileInfoMimeType)
}
