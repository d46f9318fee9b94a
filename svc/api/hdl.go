package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"zerobin/cfg"
	"zerobin/pkg/domain"
	"zerobin/svc/lim"
	"zerobin/svc/svc"
	"zerobin/svc/util"
)

// maxEnvelopeOverhead covers the JSON framing around data and author.
const maxEnvelopeOverhead = 16 * 1024

type Hdl struct {
	paste *svc.Paste
	cfg   *cfg.Cfg
}

type DeleteResp struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// Post handles POST /. The body is a paste unless comment is set.
func (h *Hdl) Post(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().
			Str("content_type", contentType).
			Str("request_id", requestID).
			Msg("invalid Content-Type header")
		writeErr(w, domain.ErrWrongContentType, requestID)
		return
	}

	limit := h.cfg.MaxPasteSize*2 + maxEnvelopeOverhead
	clHeader := r.Header.Get("Content-Length")
	if clHeader == "" {
		log.Warn().Msg("missing Content-Length on POST")
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	cl, err := strconv.ParseInt(clHeader, 10, 64)
	if err != nil || cl < 0 {
		log.Warn().Str("content_length", clHeader).Msg("invalid Content-Length")
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	if cl > limit {
		log.Warn().Int64("content_length", cl).Msg("Content-Length exceeds maximum")
		writeErr(w, domain.ErrPasteTooLarge, requestID)
		return
	}
	if ce := r.Header.Get("Content-Encoding"); ce != "" {
		log.Warn().Str("content_encoding", ce).Msg("compressed content not allowed")
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, limit)
	var req domain.PostData
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			log.Warn().Msg("empty request body")
		} else {
			log.Warn().Err(err).Msg("invalid request")
		}
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	if !utf8.ValidString(req.Data) || !utf8.ValidString(req.Author) {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}

	ip := lim.GetRealIP(r, h.cfg.TrustedProxies)
	if req.Comment {
		h.createComment(w, r, req, ip)
		return
	}
	h.createPaste(w, r, req, ip)
}

func (h *Hdl) createPaste(w http.ResponseWriter, r *http.Request, req domain.PostData, ip string) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	if req.Expire < 0 || req.Expire > int64(h.cfg.MaxExpire/time.Second) {
		writeErr(w, domain.ErrInvalidExpire, requestID)
		return
	}
	created, err := h.paste.CreatePaste(r.Context(), domain.CreatePasteParams{
		Data:       req.Data,
		Expire:     time.Duration(req.Expire) * time.Second,
		Burn:       req.Burn,
		Discussion: req.Discussion,
		Highlight:  req.Highlight,
		ClientIP:   ip,
	})
	if err != nil {
		log.Warn().Err(err).Str("ip", util.RedactIP(ip)).Msg("paste rejected")
		writeErr(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Hdl) createComment(w http.ResponseWriter, r *http.Request, req domain.PostData, ip string) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	created, err := h.paste.CreateComment(r.Context(), domain.CreateCommentParams{
		PasteID:   req.Paste,
		Parent:    req.Parent,
		Data:      req.Data,
		Author:    req.Author,
		Highlight: req.Highlight,
		ClientIP:  ip,
	})
	if err != nil {
		log.Warn().Err(err).Str("paste_id", req.Paste).Str("ip", util.RedactIP(ip)).Msg("comment rejected")
		writeErr(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetPaste serves GET /{id}. Only JSON clients receive the paste; anything
// else gets a notice so that link previews never consume a one-time paste.
func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	if !wantsJSON(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "This paste is end-to-end encrypted. Open the full link, including the part after #, with a zerobin client.\n")
		return
	}
	paste, err := h.paste.Get(r.Context(), id)
	if err != nil {
		log.Warn().Err(err).Str("paste_id", id).Msg("get failed")
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("paste_id", id).
		Str("client_ip", util.RedactIP(lim.GetRealIP(r, h.cfg.TrustedProxies))).
		Int("comments", len(paste.Comments)).
		Msg("paste retrieved")
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, paste)
}

// DeletePaste serves GET /delete/{id}/{token}.
func (h *Hdl) DeletePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	token := chi.URLParam(r, "token")
	if err := h.paste.Delete(r.Context(), id, token); err != nil {
		log.Warn().Err(err).Str("paste_id", id).Str("token", util.RedactToken(token)).Msg("delete failed")
		writeErr(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResp{Status: "deleted", ID: id})
}

func wantsJSON(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == "application/json" {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	resp := domain.ToResp(err)
	if resp.Code >= 500 {
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	writeJSON(w, resp.Code, resp)
}
