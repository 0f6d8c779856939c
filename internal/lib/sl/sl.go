// Package sl вспомогательные функции для структурированного логирования.
package sl

import "log/slog"

// Err оборачивает ошибку в slog.Attr с ключом "error", чтобы все записи
// об ошибках выглядели одинаково: log.Error("...", sl.Err(err)).
func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}
