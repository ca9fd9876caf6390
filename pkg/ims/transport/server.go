package transport

import (
	"context"
	"log/slog"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

// Handler обрабатывает входящие запросы, разобранные sipgo
type Handler interface {
	HandleInvite(req *sip.Request, r Responder)
	HandleBye(req *sip.Request, r Responder)
	HandleMessage(req *sip.Request, r Responder)
	// HandleCancel вызывается после ответа 200 на CANCEL.
	// Ответ 487 на INVITE отправляет сессия.
	HandleCancel(req *sip.Request)
}

// Server регистрирует обработчики sipgo и передает запросы в Handler
type Server struct {
	srv     *sipgo.Server
	handler Handler
	logger  *slog.Logger
}

// NewServer создает сервер и регистрирует обработчики
func NewServer(srv *sipgo.Server, handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		srv:     srv,
		handler: handler,
		logger:  logger.With(slog.String("component", "sip-server")),
	}

	srv.OnInvite(s.onInvite)
	srv.OnBye(s.onBye)
	srv.OnMessage(s.onMessage)
	srv.OnCancel(s.onCancel)
	srv.OnAck(s.onAck)
	return s
}

// ListenAndServe запускает прослушивание до отмены контекста
func (s *Server) ListenAndServe(ctx context.Context, network, addr string) error {
	s.logger.Info("Запуск SIP сервера", slog.String("network", network), slog.String("addr", addr))
	return s.srv.ListenAndServe(ctx, network, addr)
}

func (s *Server) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	s.handler.HandleInvite(req, tx)
	// Транзакция должна жить до отправки финального ответа сессией
	<-tx.Done()
}

func (s *Server) onBye(req *sip.Request, tx sip.ServerTransaction) {
	s.handler.HandleBye(req, tx)
}

func (s *Server) onMessage(req *sip.Request, tx sip.ServerTransaction) {
	s.handler.HandleMessage(req, tx)
}

func (s *Server) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	if err := tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)); err != nil {
		s.logger.Warn("Не удалось ответить на CANCEL", slog.Any("error", err))
	}
	s.handler.HandleCancel(req)
}

func (s *Server) onAck(req *sip.Request, tx sip.ServerTransaction) {
	s.logger.Debug("Получен ACK", slog.String("call_id", req.CallID().Value()))
}
