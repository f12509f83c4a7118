package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/castlebay/liveroom/internal/archive"
	"github.com/castlebay/liveroom/internal/msgcat"
	"github.com/castlebay/liveroom/internal/obslog"
	"github.com/castlebay/liveroom/internal/ratings"
	"github.com/castlebay/liveroom/internal/session"
	"github.com/julienschmidt/httprouter"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Version is stamped at build time.
var Version = "dev"

const qrSize = 320

// Server exposes the session registry over websockets plus a few plain
// HTTP endpoints for probes and archives.
type Server struct {
	reg       *session.Registry
	ratings   *ratings.Client // may be nil
	store     *archive.Store  // may be nil
	cat       *msgcat.Catalog
	publicURL string
}

func NewServer(reg *session.Registry, rc *ratings.Client, store *archive.Store, cat *msgcat.Catalog, publicURL string) *Server {
	return &Server{reg: reg, ratings: rc, store: store, cat: cat, publicURL: publicURL}
}

// Routes mounts every endpoint on the router.
func (s *Server) Routes(mux *httprouter.Router) {
	mux.GET("/ws", s.handleWS)
	mux.GET("/rooms/:code/qr", s.handleQR)
	mux.GET("/games", s.handleRecentGames)
	mux.GET("/games/:id", s.handleGame)
	mux.GET("/healthz", s.handleHealthz)
	mux.GET("/version", s.handleVersion)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"version": Version})
}

// handleQR renders a share code for a room so the second player can
// scan in instead of typing the code.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code := session.NormalizeCode(ps.ByName("code"))
	if _, err := s.reg.Lookup(code); err != nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	base := s.publicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}

	png, err := qrcode.Encode(base+"/#"+code, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func (s *Server) handleRecentGames(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.store == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}
	n, _ := strconv.Atoi(r.URL.Query().Get("n"))
	games, err := s.store.Recent(r.Context(), n)
	if err != nil {
		http.Error(w, "archive unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(games)
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if s.store == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}
	g, err := s.store.LoadGame(r.Context(), ps.ByName("id"))
	if err != nil {
		http.Error(w, "archive unavailable", http.StatusInternalServerError)
		return
	}
	if g == nil {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(g)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		obslog.L().Debug("ws accept failed", zap.Error(err))
		return
	}

	peer := newPeer(conn)
	go peer.writePump(r.Context())

	s.readLoop(r.Context(), conn, peer)
}

// readLoop drives one connection until it drops. A connection is bound
// to at most one seat; create or join fixes the binding.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, peer *Peer) {
	var (
		sess     *session.Session
		identity string
	)
	defer func() {
		peer.shutdown(websocket.StatusNormalClosure, "")
		if sess != nil && identity != "" {
			sess.Detach(identity, peer)
		}
	}()

	for {
		var m ClientMessage
		if err := wsjson.Read(ctx, conn, &m); err != nil {
			return
		}

		switch m.Type {
		case "create":
			if sess != nil {
				s.sendError(peer, "bad_request", nil)
				continue
			}
			created, err := s.reg.Create(ctx, m.Name, m.Secret, m.TimeControl, peer)
			if err != nil {
				s.sendError(peer, errorCode(err), err)
				continue
			}
			sess, identity = created.Session, created.Identity
			peer.Send(session.RoomCreated{
				Type:             "room-created",
				Code:             created.Code,
				Identity:         created.Identity,
				Color:            created.Color,
				TimeControl:      m.TimeControl,
				PasswordRequired: created.Session.PasswordRequired(),
			})
			s.backfillRating(created.Session, created.Identity, m.MemberID)

		case "join":
			if sess != nil {
				s.sendError(peer, "bad_request", nil)
				continue
			}
			res, err := s.reg.Join(m.Room, m.Identity, m.Name, m.Secret, peer)
			if err != nil {
				s.sendError(peer, errorCode(err), err)
				continue
			}
			sess, identity = res.Session, res.Identity
			joined := session.Joined{
				Type:     "joined",
				Code:     res.Session.Code(),
				Identity: res.Identity,
				Color:    res.Color,
				Rejoined: res.Rejoined,
			}
			st, stErr := res.Session.StateFor(res.Identity)
			if stErr == nil {
				joined.OpponentName = st.OpponentName
				joined.OpponentRating = st.OpponentRating
			}
			peer.Send(joined)
			if stErr == nil {
				peer.Send(st)
			}
			if !res.Rejoined {
				s.backfillRating(res.Session, res.Identity, m.MemberID)
			}

		case "move":
			s.withSession(peer, sess, identity, func() error {
				return sess.SubmitMove(identity, m.Move)
			})

		case "draw-offer":
			s.withSession(peer, sess, identity, func() error {
				return sess.OfferDraw(identity)
			})

		case "draw-accept":
			s.withSession(peer, sess, identity, func() error {
				return sess.AcceptDraw(identity)
			})

		case "draw-decline":
			s.withSession(peer, sess, identity, func() error {
				return sess.DeclineDraw(identity)
			})

		case "resign":
			s.withSession(peer, sess, identity, func() error {
				return sess.Resign(identity)
			})

		case "chat":
			s.withSession(peer, sess, identity, func() error {
				return sess.Chat(identity, m.Text)
			})

		case "state":
			if sess == nil {
				s.sendError(peer, "bad_request", nil)
				continue
			}
			st, err := sess.StateFor(identity)
			if err != nil {
				s.sendError(peer, errorCode(err), err)
				continue
			}
			peer.Send(st)

		case "validate":
			peer.Send(ValidateResult{
				Type:  "validate-result",
				Room:  session.NormalizeCode(m.Room),
				Valid: s.reg.Validate(m.Room),
			})

		case "verify":
			v := s.reg.VerifySecret(m.Room, m.Secret)
			peer.Send(VerifyResult{
				Type:             "verify-result",
				Room:             session.NormalizeCode(m.Room),
				Verified:         v.Verified,
				PasswordRequired: v.PasswordRequired,
			})

		default:
			s.sendError(peer, "bad_request", nil)
		}
	}
}

func (s *Server) withSession(peer *Peer, sess *session.Session, identity string, fn func() error) {
	if sess == nil || identity == "" {
		s.sendError(peer, "bad_request", nil)
		return
	}
	if err := fn(); err != nil {
		s.sendError(peer, errorCode(err), err)
	}
}

// backfillRating resolves a member id in the background and attaches
// the rating to the seat when it arrives. Failures are silent; ratings
// are decoration, never gameplay.
func (s *Server) backfillRating(sess *session.Session, identity, memberID string) {
	if s.ratings == nil || memberID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		p, err := s.ratings.Lookup(ctx, memberID)
		if err != nil {
			obslog.L().Debug("rating lookup failed", zap.String("member_id", memberID), zap.Error(err))
			return
		}
		sess.SetSeatRating(identity, p.Rating)
	}()
}

func (s *Server) sendError(peer *Peer, code string, err error) {
	msg := s.cat.RenderOr("error."+code, nil, "Request failed.")
	if !peer.Send(ErrorMessage{Type: "error", Code: code, Message: msg}) && err != nil {
		obslog.L().Debug("error reply dropped", zap.String("code", code), zap.Error(err))
	}
}

// errorCode maps domain errors onto wire codes, which double as message
// catalog keys under "error.".
func errorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrRoomNotFound):
		return "invalid_room"
	case errors.Is(err, session.ErrRoomFull):
		return "room_full"
	case errors.Is(err, session.ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, session.ErrIllegalMove):
		return "illegal_move"
	case errors.Is(err, session.ErrOutOfTurn):
		return "out_of_turn"
	case errors.Is(err, session.ErrNotActive):
		return "not_active"
	case errors.Is(err, session.ErrDrawAlreadyOffered):
		return "draw_pending"
	case errors.Is(err, session.ErrNoDrawOffer):
		return "no_draw_offer"
	default:
		return "bad_request"
	}
}
