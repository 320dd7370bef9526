package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New 出力先・レベル・形式（text / json）を指定してロガーを作成
func New(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// Setup 標準エラー出力のロガーを作成し、slog のデフォルトにも設定する
func Setup(level slog.Level, format string) *slog.Logger {
	l := New(os.Stderr, level, format)
	slog.SetDefault(l)
	return l
}
