// links.go — обработчики подписанных ссылок и credential хранилища.
// POST   /api/v1/links/{cid}            — выдача ссылки (judge, lawyer, forensic_expert)
// POST   /api/v1/links/{cid}/regenerate — перевыпуск ссылки
// GET    /api/v1/links                  — содержимое кэша ссылок
// DELETE /api/v1/links/{cid}            — удаление записи кэша
// DELETE /api/v1/links                  — очистка кэша
// PUT    /api/v1/credential             — сохранение credential на сессию
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/judicore/casevault/access-module/internal/api/errors"
	"github.com/judicore/casevault/access-module/internal/service"
)

// linkResponse — ответ на выдачу или перевыпуск ссылки.
type linkResponse struct {
	Message string              `json:"message"`
	Link    *service.CachedLink `json:"link"`
}

// RetrieveLink — выдача подписанной ссылки на CID с записью в кэш.
func (h *APIHandler) RetrieveLink(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")

	link, err := h.retrieval.Retrieve(r.Context(), cid, h.credentialFrom(r.Context(), r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, linkResponse{
		Message: "Подписанная ссылка выдана",
		Link:    link,
	})
}

// RegenerateLink — явный перевыпуск подписанной ссылки на CID.
func (h *APIHandler) RegenerateLink(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")

	link, err := h.retrieval.Regenerate(r.Context(), cid, h.credentialFrom(r.Context(), r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, linkResponse{
		Message: "Подписанная ссылка перевыпущена",
		Link:    link,
	})
}

// linksListResponse — содержимое кэша ссылок.
type linksListResponse struct {
	Count int                  `json:"count"`
	Links []service.CachedLink `json:"links"`
}

// ListLinks — все записи кэша ссылок, самые свежие первыми.
// Expired записи включаются с пометкой.
func (h *APIHandler) ListLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.retrieval.ListCached(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, linksListResponse{
		Count: len(links),
		Links: links,
	})
}

// RemoveLink — удаление записи кэша по CID.
// Сама подписанная ссылка не отзывается. Отсутствие записи не ошибка.
func (h *APIHandler) RemoveLink(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")

	if err := h.retrieval.Remove(r.Context(), cid); err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Запись удалена из кэша",
		"cid":     cid,
	})
}

// ClearLinks — очистка кэша ссылок.
func (h *APIHandler) ClearLinks(w http.ResponseWriter, r *http.Request) {
	if err := h.retrieval.Clear(r.Context()); err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Кэш ссылок очищен",
	})
}

// credentialRequest — тело запроса сохранения credential.
type credentialRequest struct {
	Credential string `json:"credential"`
}

// SaveCredential — сохранение credential хранилища на сессию.
// Сохранённый credential используется, когда запрос не несёт
// заголовок X-Storage-Token.
func (h *APIHandler) SaveCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return
	}
	if req.Credential == "" {
		apierrors.ValidationError(w, "Поле credential обязательно")
		return
	}

	if err := h.creds.SaveCredential(r.Context(), req.Credential); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.logger.Info("Credential хранилища сохранён на сессию")

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Credential сохранён",
	})
}
