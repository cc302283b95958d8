// dashboard.go — панели пользователей и пакетные операции.
// GET  /supervisor          — записи всех видов (supervisor)
// GET  /inspector           — записи всех видов, только просмотр (inspector)
// POST /api/update-all-qr   — перегенерация QR-кодов (supervisor)
package handlers

import (
	"fmt"
	"net/http"

	"github.com/oapi-codegen/runtime"

	apierrors "github.com/Arsalanbashir831/ATECOWQT/internal/api/errors"
	"github.com/Arsalanbashir831/ATECOWQT/internal/api/middleware"
	"github.com/Arsalanbashir831/ATECOWQT/internal/auth"
	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/model"
	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/rbac"
	"github.com/Arsalanbashir831/ATECOWQT/internal/service"
)

type dashboardResponse struct {
	User     *auth.Principal       `json:"user"`
	CanWrite bool                  `json:"can_write"`
	Kinds    []service.KindSummary `json:"kinds"`
}

type regenerateResponse struct {
	Status  string                     `json:"status"`
	Message string                     `json:"message"`
	Results []service.RegenerateResult `json:"results"`
}

// SupervisorDashboard — GET /supervisor.
func (h *APIHandler) SupervisorDashboard(w http.ResponseWriter, r *http.Request) {
	h.dashboard(w, r)
}

// InspectorDashboard — GET /inspector.
func (h *APIHandler) InspectorDashboard(w http.ResponseWriter, r *http.Request) {
	h.dashboard(w, r)
}

func (h *APIHandler) dashboard(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())
	if p == nil {
		apierrors.Unauthorized(w, "Требуется вход")
		return
	}

	kinds, err := h.records.Dashboard(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "Ошибка загрузки панели", "role", p.Role)
		return
	}

	writeJSON(w, http.StatusOK, dashboardResponse{
		User:     p,
		CanWrite: rbac.CanWrite(p.Role),
		Kinds:    kinds,
	})
}

// UpdateAllQR — POST /api/update-all-qr[?kind=card&kind=operator].
// Перегенерирует QR-коды записей указанных видов (по умолчанию всех).
// Если часть QR-кодов не обновлена, возвращается 502 с итогами по видам.
func (h *APIHandler) UpdateAllQR(w http.ResponseWriter, r *http.Request) {
	var names []string
	if err := runtime.BindQueryParameter("form", true, false, "kind", r.URL.Query(), &names); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр kind: %v", err))
		return
	}

	kinds := make([]*model.Kind, 0, len(names))
	for _, name := range names {
		kind, ok := model.KindByName(name)
		if !ok {
			apierrors.NotFound(w, fmt.Sprintf("%v: %s", service.ErrUnknownKind, name))
			return
		}
		kinds = append(kinds, kind)
	}

	results, err := h.records.RegenerateQR(r.Context(), kinds...)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка перегенерации QR-кодов")
		return
	}

	failed := 0
	for _, res := range results {
		failed += res.Failed
	}
	if failed > 0 {
		writeJSON(w, http.StatusBadGateway, regenerateResponse{
			Status:  "error",
			Message: fmt.Sprintf("Не обновлено QR-кодов: %d", failed),
			Results: results,
		})
		return
	}

	writeJSON(w, http.StatusOK, regenerateResponse{
		Status:  "success",
		Message: "All QR codes updated.",
		Results: results,
	})
}
