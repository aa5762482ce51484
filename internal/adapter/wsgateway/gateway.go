package wsgateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"bytemomo/redstorm/internal/domain"
	"bytemomo/redstorm/internal/entity"
)

// Control is the slice of the orchestrator the gateway drives.
type Control interface {
	Start(target, clientID string, phases []string) (string, error)
	Stop(clientID string)
	Pause(clientID string) error
	Resume(clientID string) error
	GetStatus(assessmentID string) (*entity.Assessment, error)
	ActiveForClient(clientID string) (*entity.Assessment, error)
}

// inbound is the control message envelope received from a client.
type inbound struct {
	Type         string `json:"type"`
	Target       string `json:"target,omitempty"`
	AssessmentID string `json:"assessment_id,omitempty"`
	Config       struct {
		Phases []string `json:"phases,omitempty"`
	} `json:"config,omitempty"`
}

// Gateway upgrades /ws/{client_id} requests and runs the per-connection
// read loop.
type Gateway struct {
	hub      *Hub
	control  Control
	upgrader websocket.Upgrader
}

func New(hub *Hub, control Control, allowedOrigins []string) *Gateway {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return &Gateway{
		hub:     hub,
		control: control,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// Hub exposes the event publisher backed by this gateway's connections.
func (g *Gateway) Hub() *Hub { return g.hub }

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client_id")
	if clientID == "" {
		http.Error(w, "client id required", http.StatusBadRequest)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("client", clientID).WithError(err).Warn("Websocket upgrade failed")
		return
	}

	c := g.hub.bind(clientID, conn)
	defer g.hub.unbind(c)

	l := log.WithField("client", clientID)
	l.Info("Websocket client connected")
	defer l.Info("Websocket client disconnected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.WithError(err).Debug("Websocket read failed")
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			g.replyError(clientID, "", "malformed message")
			continue
		}
		g.dispatch(clientID, msg)
	}
}

func (g *Gateway) dispatch(clientID string, msg inbound) {
	l := log.WithFields(log.Fields{"client": clientID, "type": msg.Type})
	l.Debug("Control message received")

	switch msg.Type {
	case "start_assessment":
		if _, err := g.control.Start(msg.Target, clientID, msg.Config.Phases); err != nil {
			g.replyError(clientID, msg.Type, errorCode(err))
		}

	case "stop_assessment":
		g.control.Stop(clientID)

	case "pause_assessment":
		if err := g.control.Pause(clientID); err != nil {
			g.replyError(clientID, msg.Type, errorCode(err))
		}

	case "resume_assessment":
		if err := g.control.Resume(clientID); err != nil {
			g.replyError(clientID, msg.Type, errorCode(err))
		}

	case "get_assessment_status":
		g.sendStatus(clientID, msg.AssessmentID)

	default:
		g.replyError(clientID, msg.Type, "unknown message type")
	}
}

func (g *Gateway) sendStatus(clientID, assessmentID string) {
	var (
		a   *entity.Assessment
		err error
	)
	if assessmentID != "" {
		a, err = g.control.GetStatus(assessmentID)
	} else {
		a, err = g.control.ActiveForClient(clientID)
	}
	if err != nil {
		g.replyError(clientID, "get_assessment_status", errorCode(err))
		return
	}

	ev := domain.NewEvent(domain.EventAssessmentStatus, a.ID, map[string]any{"status": a})
	if perr := g.hub.Publish(clientID, ev); perr != nil {
		log.WithField("client", clientID).WithError(perr).Warn("Status delivery failed")
	}
}

func (g *Gateway) replyError(clientID, request, code string) {
	ev := domain.NewEvent("error", "", map[string]any{"request": request, "error": code})
	if err := g.hub.Publish(clientID, ev); err != nil {
		log.WithField("client", clientID).WithError(err).Warn("Error reply delivery failed")
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, domain.ErrConcurrencyLimit):
		return "concurrency_limit_exceeded"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrUnknownPhase):
		return "unknown_phase"
	default:
		return err.Error()
	}
}
