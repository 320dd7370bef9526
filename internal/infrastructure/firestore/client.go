package firestore

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
)

type FirestoreClient struct {
	client *firestore.Client
}

// NewFirestoreClient Firestoreクライアントを作成
// Cloud Run 上とエミュレータ接続時はデフォルト認証、それ以外は credentialsFile があればそれを使う
func NewFirestoreClient(ctx context.Context, projectID, credentialsFile string, logger *slog.Logger) (*FirestoreClient, error) {
	if projectID == "" {
		return nil, fmt.Errorf("FIRESTORE_PROJECT_ID環境変数が設定されていません")
	}

	var opts []option.ClientOption
	switch {
	case isCloudRun():
		logger.Info("☁️ Cloud Run環境: デフォルト認証を使用")
	case os.Getenv("FIRESTORE_EMULATOR_HOST") != "":
		logger.Info("🧪 Firestoreエミュレータに接続", "host", os.Getenv("FIRESTORE_EMULATOR_HOST"))
	case credentialsFile != "":
		if _, err := os.Stat(credentialsFile); err != nil {
			logger.Warn("⚠️ 認証ファイルが見つからないためデフォルト認証を使用", "file", credentialsFile)
		} else {
			logger.Info("📄 認証ファイルを使用", "file", credentialsFile)
			opts = append(opts, option.WithCredentialsFile(credentialsFile))
		}
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("Firestoreクライアントの初期化に失敗: %w", err)
	}
	logger.Info("✅ Firestoreクライアント初期化完了", "project", projectID)

	return &FirestoreClient{client: client}, nil
}

func isCloudRun() bool {
	return os.Getenv("K_SERVICE") != ""
}

func (fc *FirestoreClient) Close() error {
	return fc.client.Close()
}

func (fc *FirestoreClient) GetClient() *firestore.Client {
	return fc.client
}

// HealthCheck machines コレクションを1件だけ読んで疎通を確認する
func (fc *FirestoreClient) HealthCheck(ctx context.Context) error {
	if fc.client == nil {
		return fmt.Errorf("Firestoreクライアントが初期化されていません")
	}
	_, err := fc.client.Collection("machines").Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return fmt.Errorf("Firestoreへの疎通確認に失敗: %w", err)
	}
	return nil
}
