// Package mq — слой обмена сообщениями через RabbitMQ.
//
// Топология: обменник sutra.tasks раздаёт задачи по очередям пулов
// (tasks.indexing, tasks.maintenance), обменник sutra.dlq принимает
// терминальные эскалации в dlq.tasks. Очереди пулов настроены с
// x-dead-letter-exchange: отвергнутое брокером сообщение само уходит
// в DLQ.
//
// Сообщения несут только task_id — источником истины остаётся БД.
// Redelivery брокера и внутренний счётчик попыток worker'а — разные
// счётчики: первый покрывает недоставленные ack, второй — ошибки
// handler'а.
package mq
