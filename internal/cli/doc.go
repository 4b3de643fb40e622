// Package cli содержит команды CLI-клиента.
//
// Структура:
//   - client.go — HTTP-клиент для API (дублирует DTO, не импортирует api)
//   - output.go — табличный/JSON вывод
//   - task.go   — постановка и просмотр задач
//   - ops.go    — операторские команды (dlq, health)
package cli
