package database

import (
	"context"
	"fmt"

	"github.com/supabase-community/supabase-go"
)

// SupabaseClient Supabaseクライアントのラッパー
type SupabaseClient struct {
	Client *supabase.Client
}

// NewSupabaseClient 新しいSupabaseクライアントを作成
func NewSupabaseClient(supabaseURL, anonKey string) (*SupabaseClient, error) {
	if supabaseURL == "" {
		return nil, fmt.Errorf("SUPABASE_URL環境変数が設定されていません")
	}
	if anonKey == "" {
		return nil, fmt.Errorf("SUPABASE_ANON_KEY環境変数が設定されていません")
	}

	client, err := supabase.NewClient(supabaseURL, anonKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("Supabaseクライアントの初期化に失敗: %w", err)
	}

	return &SupabaseClient{
		Client: client,
	}, nil
}

// GetClient Supabaseクライアントを取得
func (sc *SupabaseClient) GetClient() *supabase.Client {
	return sc.Client
}

// HealthCheck machines テーブルに1件だけ問い合わせて疎通を確認する
// PostgREST クライアントは context を受け取らないので ctx はキャンセル済みかどうかだけ見る
func (sc *SupabaseClient) HealthCheck(ctx context.Context) error {
	if sc.Client == nil {
		return fmt.Errorf("Supabaseクライアントが初期化されていません")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	_, _, err := sc.Client.From("machines").Select("id", "", false).Limit(1, "").Execute()
	if err != nil {
		return fmt.Errorf("Supabaseへの疎通確認に失敗: %w", err)
	}
	return nil
}
