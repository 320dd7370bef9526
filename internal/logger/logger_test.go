package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("json 形式", func(t *testing.T) {
		var buf bytes.Buffer
		l := New(&buf, slog.LevelInfo, "json")

		l.Info("タイル更新完了", "tiles", 3)

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "タイル更新完了", entry["msg"])
		assert.Equal(t, float64(3), entry["tiles"])
	})

	t.Run("レベル未満は出力しない", func(t *testing.T) {
		var buf bytes.Buffer
		l := New(&buf, slog.LevelWarn, "text")

		l.Info("無視される")
		assert.Empty(t, buf.String())

		l.Warn("出力される")
		assert.Contains(t, buf.String(), "出力される")
	})
}
