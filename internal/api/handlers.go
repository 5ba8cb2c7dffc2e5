package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/satsplit/satsplit/internal/models"
	"github.com/satsplit/satsplit/internal/nostr"
	"github.com/satsplit/satsplit/internal/relay"
	"github.com/satsplit/satsplit/internal/service"
)

type sessionRequest struct {
	Pubkey   string `json:"pubkey"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token  string `json:"token"`
	Pubkey string `json:"pubkey"`
}

// handleCreateSession verifies the vault password and issues a session
// token. The password is used for the check and discarded.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	token, err := s.sessions.Unlock(r.Context(), req.Pubkey, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: token, Pubkey: req.Pubkey})
}

type passwordRequest struct {
	Password string `json:"password"`
}

type importKeyRequest struct {
	SecretHex string `json:"secretHex"`
	Password  string `json:"password"`
}

type keyResponse struct {
	Pubkey    string `json:"pubkey"`
	CreatedAt int64  `json:"createdAt"`
}

func (s *Server) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	key, err := s.keys.Generate(r.Context(), req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, keyResponse{Pubkey: key.Pubkey, CreatedAt: key.CreatedAt})
}

func (s *Server) handleImportKey(w http.ResponseWriter, r *http.Request) {
	var req importKeyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	key, err := s.keys.Import(r.Context(), req.SecretHex, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, keyResponse{Pubkey: key.Pubkey, CreatedAt: key.CreatedAt})
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.keys.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]keyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyResponse{Pubkey: k.Pubkey, CreatedAt: k.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRate(w http.ResponseWriter, r *http.Request) {
	rate, err := s.rates.GetRate(r.Context(), chi.URLParam(r, "currency"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rate)
}

func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	profile := s.contacts.Resolve(r.Context(), chi.URLParam(r, "pubkey"))
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleGetRelays(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Relays())
}

type replaceRelaysRequest struct {
	Relays []models.Relay `json:"relays"`
}

func (s *Server) handleReplaceRelays(w http.ResponseWriter, r *http.Request) {
	var req replaceRelaysRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.registry.Replace(r.Context(), req.Relays); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.registry.Relays())
}

type probeRequest struct {
	URL string `json:"url"`
}

type probeResponse struct {
	URL       string `json:"url"`
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleProbeRelay(w http.ResponseWriter, r *http.Request) {
	var req probeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp := probeResponse{URL: req.URL, Reachable: true}
	if err := relay.Probe(r.Context(), req.URL); err != nil {
		resp.Reachable = false
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type createRequestBody struct {
	service.RequestInput
	Password string `json:"password"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	in := body.RequestInput
	in.SignerPubkey = sessionPubkey(r.Context())
	in.Password = body.Password

	result, err := s.orch.CreateRequest(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.orch.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if receipts == nil {
		receipts = []*models.Receipt{}
	}
	writeJSON(w, http.StatusOK, receipts)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.orch.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.orch.AuditTrail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type markPaidRequest struct {
	Pubkey   string           `json:"pubkey"`
	PaidSats int64            `json:"paidSats"`
	Method   models.PayMethod `json:"method"`
	Password string           `json:"password"`
}

func (s *Server) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	var req markPaidRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	receipt, err := s.orch.MarkParticipantPaid(
		r.Context(),
		chi.URLParam(r, "id"),
		req.Pubkey,
		req.PaidSats,
		req.Method,
		sessionPubkey(r.Context()),
		req.Password,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleGetZaps(w http.ResponseWriter, r *http.Request) {
	zaps, err := s.orch.ObserveZaps(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if zaps == nil {
		zaps = []*nostr.Event{}
	}
	writeJSON(w, http.StatusOK, zaps)
}

func (s *Server) handleRetryPublish(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.orch.RetryPublish(
		r.Context(),
		chi.URLParam(r, "id"),
		sessionPubkey(r.Context()),
		req.Password,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
