// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go         — Handler с DI (dispatcher, хранилища, logger)
//   - routes.go          — регистрация маршрутов
//   - middleware.go      — middleware (logging, recovery)
//   - response.go        — унифицированные JSON-ответы и обработка ошибок
//   - dto.go             — Data Transfer Objects (request/response)
//   - task_handler.go    — direct ingress и операторские ручки
//   - pubsub_handler.go  — push ingress (доставка брокера)
//
// Два ingress сходятся в одном Dispatcher'е: direct HTTP для
// синхронных вызовов приложения и push-доставка брокера. Отличаются
// только аутентификацией (shared secret против подписанного токена)
// и семантикой ответов (ошибка против ack/nack).
package api
