package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/UkralStul/discussion-board-service/internal/auth"
	"github.com/UkralStul/discussion-board-service/internal/dataloader"
	"github.com/UkralStul/discussion-board-service/internal/domain"
	"github.com/UkralStul/discussion-board-service/internal/reliability"
	"github.com/UkralStul/discussion-board-service/internal/storage"

	"github.com/go-chi/chi/v5"
	gopherloader "github.com/graph-gophers/dataloader"
)

// Handler держит зависимости REST-слоя.
type Handler struct {
	store storage.Storage
	auth  *auth.Manager
}

func NewHandler(store storage.Storage, authManager *auth.Manager) *Handler {
	return &Handler{store: store, auth: authManager}
}

// Routes собирает маршруты API. Аутентификационный middleware
// навешивается снаружи (в main), здесь - только ролевые ворота.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser)
		r.Get("/users/me", h.GetMe)
		r.Put("/users/me", h.UpdateMe)
		r.Post("/discussions/{discussionID}/responses", h.CreateResponse)
		r.Post("/responses/{responseID}/vote", h.CastVote)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAdmin)
		r.Get("/users", h.ListUsers)
		r.Put("/users/{userID}/role", h.UpdateUserRole)
		r.Post("/discussions", h.CreateDiscussion)
		r.Post("/moderation/sources", h.CreateReliableSource)
		r.Get("/moderation/sources", h.ListReliableSources)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireModerator)
		r.Get("/moderation/responses/pending", h.ListPendingResponses)
		r.Put("/moderation/responses/{responseID}/approve", h.ApproveResponse)
		r.Put("/moderation/responses/{responseID}/reject", h.RejectResponse)
		r.Put("/discussions/{discussionID}/finish", h.FinishDiscussion)
	})

	r.Get("/discussions", h.ListDiscussions)
	r.Get("/discussions/{discussionID}", h.GetDiscussion)
	r.Get("/discussions/{discussionID}/responses", h.ListApprovedResponses)

	return r
}

// === Auth Handlers ===

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "name and valid email are required")
		return
	}
	if len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}

	hash, err := h.auth.HashPassword(req.Password)
	if err != nil {
		h.internalError(w, "hash password", err)
		return
	}
	user, err := h.store.CreateUser(r.Context(), &domain.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         domain.RoleRegular,
	})
	if err != nil {
		h.mapStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil || !h.auth.CheckPassword(user.PasswordHash, req.Password) {
		// Не раскрываем, что именно неверно - email или пароль
		writeError(w, http.StatusBadRequest, "invalid credentials")
		return
	}
	token, err := h.auth.CreateToken(user)
	if err != nil {
		h.internalError(w, "create token", err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

// === User Handlers ===

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, user)
}

type updateMeRequest struct {
	Name     *string `json:"name"`
	Password *string `json:"password"`
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	var req updateMeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var passwordHash *string
	if req.Password != nil {
		if len(*req.Password) < 6 {
			writeError(w, http.StatusBadRequest, "password must be at least 6 characters")
			return
		}
		hash, err := h.auth.HashPassword(*req.Password)
		if err != nil {
			h.internalError(w, "hash password", err)
			return
		}
		passwordHash = &hash
	}

	updated, err := h.store.UpdateUser(r.Context(), user.ID, req.Name, passwordHash)
	if err != nil {
		h.mapStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.GetUsers(r.Context(), paginationFromQuery(r))
	if err != nil {
		h.mapStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type roleRequest struct {
	Role domain.Role `json:"role"`
}

func (h *Handler) UpdateUserRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	switch req.Role {
	case domain.RoleRegular, domain.RoleModerator, domain.RoleAdmin:
	default:
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}
	user, err := h.store.UpdateUserRole(r.Context(), chi.URLParam(r, "userID"), req.Role)
	if err != nil {
		h.mapStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// === Discussion Handlers ===

type discussionRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (h *Handler) CreateDiscussion(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	var req discussionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "title and content are required")
		return
	}

	discussion, err := h.store.CreateDiscussion(r.Context(), &domain.Discussion{
		Title:   req.Title,
		Content: req.Content,
		UserID:  user.ID,
	})
	if err != nil {
		h.mapStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, discussion)
}

func (h *Handler) ListDiscussions(w http.ResponseWriter, r *http.Request) {
	discussions, err := h.store.GetDiscussions(r.Context(), paginationFromQuery(r))
	if err != nil {
		h.mapStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, discussions)
}

func (h *Handler) GetDiscussion(w http.ResponseWriter, r *http.Request) {
	discussion, err := h.store.GetDiscussionByID(r.Context(), chi.URLParam(r, "discussionID"))
	if err != nil {
		h.mapStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, discussion)
}

func (h *Handler) FinishDiscussion(w http.ResponseWriter, r *http.Request) {
	discussion, err := h.store.FinishDiscussion(r.Context(), chi.URLParam(r, "discussionID"))
	if err != nil {
		h.mapStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, discussion)
}

// === Response Handlers ===

type responseRequest struct {
	Content  string        `json:"content"`
	Stance   domain.Stance `json:"stance"`
	ParentID *string       `json:"parentId"`
}

func (h *Handler) CreateResponse(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	var req responseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if !req.Stance.Valid() {
		writeError(w, http.StatusBadRequest, "stance must be agree or disagree")
		return
	}

	// Пометка доверенного источника по ссылкам в тексте
	sources, err := h.store.GetReliableSources(r.Context())
	if err != nil {
		h.internalError(w, "load reliable sources", err)
		return
	}
	detector := reliability.NewDetector(sources)

	response, err := h.store.CreateResponse(r.Context(), &domain.Response{
		DiscussionID:     chi.URLParam(r, "discussionID"),
		UserID:           user.ID,
		Content:          req.Content,
		Stance:           req.Stance,
		ParentID:         req.ParentID,
		IsReliableSource: detector.ContainsReliableLink(req.Content),
	})
	if err != nil {
		h.mapStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, response)
}

// ListApprovedResponses возвращает одобренные корневые ответы обсуждения
// вместе с одобренными вложенными ответами и голосом зрителя.
// Вложенные ответы и голоса догружаются через request-scoped dataloader'ы,
// чтобы не делать по запросу на каждый корневой ответ.
func (h *Handler) ListApprovedResponses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	roots, err := h.store.GetApprovedResponses(ctx, chi.URLParam(r, "discussionID"))
	if err != nil {
		h.mapStorageError(w, err)
		return
	}

	loaders := dataloader.For(ctx)

	// Догружаем вложенные ответы пачкой
	replyThunks := make([]gopherloader.Thunk, len(roots))
	for i, root := range roots {
		replyThunks[i] = loaders.ApprovedRepliesByParentID.Load(ctx, gopherloader.StringKey(root.ID))
	}
	all := make([]*domain.Response, 0, len(roots))
	for i, root := range roots {
		data, err := replyThunks[i]()
		if err != nil {
			h.internalError(w, "load replies", err)
			return
		}
		root.Replies, _ = data.([]*domain.Response)
		all = append(all, root)
		all = append(all, root.Replies...)
	}

	// Аннотируем голосом зрителя (для анонимного запроса лоадер вернет nil)
	voteThunks := make([]gopherloader.Thunk, len(all))
	for i, resp := range all {
		voteThunks[i] = loaders.ViewerVoteByResponseID.Load(ctx, gopherloader.StringKey(resp.ID))
	}
	for i, resp := range all {
		data, err := voteThunks[i]()
		if err != nil {
			h.internalError(w, "load viewer votes", err)
			return
		}
		resp.UserVote, _ = data.(*domain.VoteType)
	}

	writeJSON(w, http.StatusOK, roots)
}

// === Moderation Handlers ===

func (h *Handler) ListPendingResponses(w http.ResponseWriter, r *http.Request) {
	responses, err := h.store.GetPendingResponses(r.Context())
	if err != nil {
		h.mapStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, responses)
}

func (h *Handler) ApproveResponse(w http.ResponseWriter, r *http.Request) {
	h.setResponseStatus(w, r, domain.StatusApproved)
}

func (h *Handler) RejectResponse(w http.ResponseWriter, r *http.Request) {
	h.setResponseStatus(w, r, domain.StatusRejected)
}

func (h *Handler) setResponseStatus(w http.ResponseWriter, r *http.Request, status domain.ApprovalStatus) {
	response, err := h.store.SetResponseStatus(r.Context(), chi.URLParam(r, "responseID"), status)
	if err != nil {
		h.mapStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// === Vote Handlers ===

func (h *Handler) CastVote(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	voteType := domain.VoteType(r.URL.Query().Get("vote_type"))
	if !voteType.Valid() {
		writeError(w, http.StatusBadRequest, "vote_type must be up or down")
		return
	}

	summary, err := h.store.CastVote(r.Context(), user.ID, chi.URLParam(r, "responseID"), voteType)
	if err != nil {
		h.mapStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// === Reliable Source Handlers ===

type sourceRequest struct {
	Domain string `json:"domain"`
}

func (h *Handler) CreateReliableSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Domain = strings.TrimSpace(strings.ToLower(req.Domain))
	if req.Domain == "" || strings.ContainsAny(req.Domain, "/ ") {
		writeError(w, http.StatusBadRequest, "domain must be a bare host name")
		return
	}
	source, err := h.store.CreateReliableSource(r.Context(), &domain.ReliableSource{Domain: req.Domain})
	if err != nil {
		h.mapStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, source)
}

func (h *Handler) ListReliableSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.store.GetReliableSources(r.Context())
	if err != nil {
		h.mapStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

// === Helpers ===

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// mapStorageError переводит сигнальные ошибки хранилища в HTTP-статусы.
func (h *Handler) mapStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrEmailTaken):
		writeError(w, http.StatusBadRequest, "email already registered")
	case errors.Is(err, storage.ErrNestingLimit):
		writeError(w, http.StatusBadRequest, "nesting limit reached (max 1 level)")
	case errors.Is(err, storage.ErrDuplicateReply):
		writeError(w, http.StatusConflict, "you already replied to this response")
	case errors.Is(err, storage.ErrConsistency):
		h.internalError(w, "vote ledger consistency", err)
	default:
		h.internalError(w, "storage", err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	log.Printf("internal error (%s): %v", op, err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func paginationFromQuery(r *http.Request) storage.PaginationArgs {
	args := storage.PaginationArgs{Limit: 100}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		args.Limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		args.Offset = v
	}
	return args
}
