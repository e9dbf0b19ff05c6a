package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"

	"chatapp/infrastructure"
	"chatapp/internal/contacts"
)

func (s *Server) beginRegistration(w http.ResponseWriter, r *http.Request) {
	var input struct {
		PhoneNumber string `json:"phone_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.auth.BeginRegistration(r.Context(), input.PhoneNumber)
	switch {
	case errors.Is(err, infrastructure.ErrPhoneAlreadyRegistered):
		writeError(w, http.StatusConflict, "phone number already registered")
	case errors.Is(err, infrastructure.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid phone number")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "could not start verification")
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"verification_id": id})
	}
}

func (s *Server) beginLogin(w http.ResponseWriter, r *http.Request) {
	var input struct {
		PhoneNumber string `json:"phone_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.auth.BeginLogin(r.Context(), input.PhoneNumber)
	switch {
	case errors.Is(err, infrastructure.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid phone number")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "could not start verification")
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"verification_id": id})
	}
}

func (s *Server) confirmVerification(w http.ResponseWriter, r *http.Request) {
	var input struct {
		VerificationID string `json:"verification_id"`
		Code           string `json:"code"`
		PhoneNumber    string `json:"phone_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, user, err := s.auth.Confirm(r.Context(), input.VerificationID, input.Code, input.PhoneNumber)
	if errors.Is(err, infrastructure.ErrUnauthorized) {
		writeError(w, http.StatusUnauthorized, "verification failed")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not complete verification")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	self := currentUserID(r)
	users, err := s.directory.Users(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "could not load users")
		return
	}
	query := r.URL.Query().Get("q")
	out := users[:0]
	for _, user := range users {
		if user.UID == self {
			continue
		}
		if query != "" && !containsFold(user.Username, query) {
			continue
		}
		out = append(out, user)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.resolver.Summaries(r.Context(), currentUserID(r))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "could not load chats")
		return
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].LastMessageTime > summaries[j].LastMessageTime
	})
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) resolveChat(w http.ResponseWriter, r *http.Request) {
	var input struct {
		TargetID string `json:"target_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resolution, err := s.resolver.Resolve(r.Context(), currentUserID(r), input.TargetID)
	switch {
	case errors.Is(err, infrastructure.ErrSelfChatForbidden):
		writeError(w, http.StatusBadRequest, "cannot chat with yourself")
	case errors.Is(err, infrastructure.ErrLookupFailed):
		writeError(w, http.StatusServiceUnavailable, "could not check existing chats")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "could not resolve chat")
	default:
		status := http.StatusOK
		if resolution.Created {
			status = http.StatusCreated
		}
		writeJSON(w, status, map[string]any{
			"chat_id": resolution.ChatID,
			"created": resolution.Created,
		})
	}
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var input struct {
		ChatID     string `json:"chat_id"`
		ReceiverID string `json:"receiver_id"`
		Text       string `json:"text"`
		ImageURL   string `json:"image_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sender := currentUserID(r)

	var (
		msg    any
		chatID string
		err    error
	)
	if input.ImageURL != "" {
		msg, chatID, err = s.messages.SendImage(r.Context(), input.ChatID, sender, input.ReceiverID, input.ImageURL)
	} else {
		msg, chatID, err = s.messages.SendText(r.Context(), input.ChatID, sender, input.ReceiverID, input.Text)
	}
	if errors.Is(err, infrastructure.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, "message needs a receiver and a text or image body")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not send message")
		return
	}

	if sending, lookupErr := s.directory.UserByID(r.Context(), sender); lookupErr == nil {
		preview := input.Text
		if input.ImageURL != "" {
			preview = "📷 Image"
		}
		// Detached from the request context: the push outlives the response.
		go s.notify.NotifyNewMessage(context.Background(), input.ReceiverID, sending.Username, preview)
	}

	writeJSON(w, http.StatusCreated, map[string]any{"chat_id": chatID, "message": msg})
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chatID"]
	timeline, err := s.messages.Messages(r.Context(), chatID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "could not load messages")
		return
	}
	writeJSON(w, http.StatusOK, timeline)
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	if err := s.messages.MarkAllRead(r.Context(), mux.Vars(r)["chatID"], currentUserID(r)); err != nil {
		writeError(w, http.StatusInternalServerError, "could not mark chat read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deleteChat removes only the caller's own summary; the other participant's
// summary and the messages stay.
func (s *Server) deleteChat(w http.ResponseWriter, r *http.Request) {
	uid := currentUserID(r)
	chatID := mux.Vars(r)["chatID"]
	if err := s.store.Delete(r.Context(), "user-chats/"+uid+"/"+chatID); err != nil {
		writeError(w, http.StatusInternalServerError, "could not delete chat")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) matchContacts(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Contacts []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			PhoneNumber string `json:"phone_number"`
		} `json:"contacts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	device := make([]contacts.DeviceContact, 0, len(input.Contacts))
	for _, c := range input.Contacts {
		device = append(device, contacts.DeviceContact{ID: c.ID, Name: c.Name, PhoneNumber: c.PhoneNumber})
	}

	self, err := s.directory.UserByID(r.Context(), currentUserID(r))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "could not load own profile")
		return
	}

	matches, err := s.matcher(sliceSource(device)).FindRegisteredContacts(r.Context(), self)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "contact matching failed")
		return
	}
	if matches == nil {
		matches = []contacts.Match{}
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Username string `json:"username"`
		ImageURL string `json:"image_url"`
		Status   string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.directory.UpdateProfile(r.Context(), currentUserID(r), input.Username, input.ImageURL, input.Status); err != nil {
		writeError(w, http.StatusInternalServerError, "could not update profile")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) saveSettings(w http.ResponseWriter, r *http.Request) {
	var settings map[string]any
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.directory.SaveSettings(r.Context(), currentUserID(r), settings); err != nil {
		writeError(w, http.StatusInternalServerError, "could not save settings")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updatePushToken(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.Token == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}
	if err := s.notify.TokenRefreshed(r.Context(), currentUserID(r), input.Token); err != nil {
		writeError(w, http.StatusInternalServerError, "could not store token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 10<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read upload body")
		return
	}
	var url string
	if dir := mux.Vars(r)["dir"]; dir == "profile_images" {
		url, err = s.uploader.UploadProfileImage(r.Context(), currentUserID(r), data)
	} else {
		url, err = s.uploader.Upload(r.Context(), dir, data)
	}
	if errors.Is(err, infrastructure.ErrUploadFailed) {
		writeError(w, http.StatusBadGateway, "upload failed after retries")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "empty upload")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

func (s *Server) deleteAccount(w http.ResponseWriter, r *http.Request) {
	uid := currentUserID(r)
	if err := s.directory.DeleteAccount(r.Context(), uid); err != nil {
		writeError(w, http.StatusInternalServerError, "could not delete account")
		return
	}
	s.uploader.DeleteProfileImage(r.Context(), uid)
	w.WriteHeader(http.StatusNoContent)
}

// sliceSource adapts contacts posted in a request body to the matcher's
// device contact source.
type sliceSource []contacts.DeviceContact

func (s sliceSource) Contacts(ctx context.Context) ([]contacts.DeviceContact, error) {
	return s, nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
