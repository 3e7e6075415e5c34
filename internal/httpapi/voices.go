package httpapi

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/ent0n29/tars/internal/speech"
)

type voiceSummary struct {
	Name string `json:"name"`
	Lang string `json:"lang"`
}

type listVoicesResponse struct {
	Current     voiceSummary   `json:"current"`
	Recommended []voiceSummary `json:"recommended"`
	Voices      []voiceSummary `json:"voices"`
}

type setVoiceRequest struct {
	Name   string   `json:"name"`
	Lang   string   `json:"lang"`
	Volume *float64 `json:"volume"`
}

func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	if s.voice == nil || !s.voice.Available() {
		respondJSON(w, http.StatusOK, listVoicesResponse{
			Recommended: []voiceSummary{},
			Voices:      []voiceSummary{},
		})
		return
	}

	settings := s.voice.Settings()
	out := listVoicesResponse{
		Current:     voiceSummary{Name: settings.Voice, Lang: settings.Lang},
		Recommended: []voiceSummary{},
		Voices:      []voiceSummary{},
	}
	if s.voices == nil {
		respondJSON(w, http.StatusOK, out)
		return
	}

	voices, err := s.voices.Voices(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "voices_unavailable", err.Error())
		return
	}
	sort.SliceStable(voices, func(i, j int) bool {
		return strings.ToLower(voices[i].Name) < strings.ToLower(voices[j].Name)
	})
	prefix := speech.LangPrefix(settings.Lang)
	for _, v := range voices {
		summary := voiceSummary{Name: v.Name, Lang: v.Lang}
		out.Voices = append(out.Voices, summary)
		if prefix != "" && strings.HasPrefix(strings.ToLower(v.Lang), prefix) {
			out.Recommended = append(out.Recommended, summary)
		}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetVoice(w http.ResponseWriter, r *http.Request) {
	if s.voice == nil || !s.voice.Available() {
		respondError(w, http.StatusNotImplemented, "unavailable", "speech synthesis not available")
		return
	}
	var req setVoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Volume != nil {
		if *req.Volume < 0 || *req.Volume > 1 {
			respondError(w, http.StatusBadRequest, "invalid_volume", "volume must be between 0 and 1")
			return
		}
		s.voice.SetVolume(*req.Volume)
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		s.voice.SetVoice(speech.Voice{Name: name, Lang: strings.TrimSpace(req.Lang)})
	}
	settings := s.voice.Settings()
	respondJSON(w, http.StatusOK, map[string]any{
		"voice":  settings.Voice,
		"lang":   settings.Lang,
		"volume": settings.Volume,
	})
}
