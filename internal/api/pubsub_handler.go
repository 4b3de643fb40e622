package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shaiso/Sutra/internal/domain"
	"github.com/shaiso/Sutra/internal/metrics"
)

// PushHandler возвращает обработчик push-доставки для типа задачи.
//
// Семантика ответов диктуется брокером: 2xx подтверждает доставку,
// всё остальное ведёт к redelivery. Поэтому ошибки валидации отвечают
// 200 — невалидный payload не станет валидным при повторе, сообщение
// дропается. 503 возвращается только на временные сбои (недоступна
// БД), где redelivery осмысленна.
func (h *Handler) PushHandler(taskType domain.TaskType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.pushAuth.ValidateRequest(r); err != nil {
			metrics.TasksRejectedTotal.WithLabelValues("auth").Inc()
			h.logger.Warn("push delivery rejected",
				"task_type", taskType,
				"error", err,
			)
			Unauthorized(w, "invalid push token")
			return
		}

		var envelope PushEnvelope
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			// Ack-дроп: повтор не починит форму конверта.
			metrics.TasksRejectedTotal.WithLabelValues("validation").Inc()
			h.logger.Error("malformed push envelope, dropping",
				"task_type", taskType,
				"error", err,
			)
			Success(w, map[string]string{"status": "dropped"})
			return
		}

		payload, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
		if err != nil {
			metrics.TasksRejectedTotal.WithLabelValues("validation").Inc()
			h.logger.Error("malformed push message data, dropping",
				"task_type", taskType,
				"message_id", envelope.Message.MessageID,
				"error", err,
			)
			Success(w, map[string]string{"status": "dropped"})
			return
		}

		res, err := h.dispatcher.Submit(r.Context(), taskType, payload)
		if err != nil {
			if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrUnknownTaskType) {
				metrics.TasksRejectedTotal.WithLabelValues("validation").Inc()
				h.logger.Error("invalid push payload, dropping",
					"task_type", taskType,
					"message_id", envelope.Message.MessageID,
					"error", err,
				)
				Success(w, map[string]string{"status": "dropped"})
				return
			}

			// Временный сбой: nack, брокер передоставит.
			h.logger.Warn("push submission failed, requesting redelivery",
				"task_type", taskType,
				"message_id", envelope.Message.MessageID,
				"error", err,
			)
			ServiceUnavailable(w, "submission failed, retry later")
			return
		}

		metrics.TasksSubmittedTotal.WithLabelValues(string(taskType), "push").Inc()
		Success(w, res)
	}
}
