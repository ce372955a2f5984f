package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/halyard-ssh/halyard/internal/keystore"
)

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	records, err := s.keys.List()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type addKeyRequest struct {
	Name       string `json:"name"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key,omitempty"`
}

func (s *Server) handleAddKey(w http.ResponseWriter, r *http.Request) {
	var req addKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := s.keys.Add(req.Name, req.PublicKey, req.PrivateKey)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec.Redacted())
}

func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	rec, err := s.keys.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRemoveKey(w http.ResponseWriter, r *http.Request) {
	if err := s.keys.Remove(chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type generateKeyRequest struct {
	Type string `json:"type"`
	Bits int    `json:"bits,omitempty"`
	Name string `json:"name,omitempty"`
}

type generateKeyResponse struct {
	Record      keystore.Record `json:"record"`
	PublicKey   string          `json:"public_key"`
	PrivateKey  string          `json:"private_key"`
	Fingerprint string          `json:"fingerprint"`
}

func (s *Server) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	var req generateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	generated, err := s.gen.Generate(keystore.GenerateOptions{
		Type: req.Type,
		Bits: req.Bits,
		Name: req.Name,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, generateKeyResponse{
		Record:      generated.Record,
		PublicKey:   generated.PublicKey,
		PrivateKey:  generated.PrivateKey,
		Fingerprint: generated.Fingerprint,
	})
}
