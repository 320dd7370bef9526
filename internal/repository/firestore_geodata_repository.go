package repository

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"MachineMap-App/internal/domain/model"
	"MachineMap-App/internal/domain/repository"
)

// firestoreScanFactor 経度をメモリで絞り込むため、limit の何倍まで緯度帯のドキュメントを読むか
const firestoreScanFactor = 10

// FirestoreGeodataRepository Firestoreの machines コレクションを範囲検索する
// Firestore は範囲条件を1フィールドにしか掛けられないため、緯度で問い合わせて経度はメモリで絞り込む
type FirestoreGeodataRepository struct {
	client *firestore.Client
}

func NewFirestoreGeodataRepository(client *firestore.Client) repository.GeodataRepository {
	return &FirestoreGeodataRepository{
		client: client,
	}
}

func (r *FirestoreGeodataRepository) FetchInBounds(ctx context.Context, bounds model.BoundingBox, limit int) ([]model.POI, error) {
	iter := r.client.Collection(machinesTable).
		Where("latitude", ">=", bounds.MinLat).
		Where("latitude", "<=", bounds.MaxLat).
		OrderBy("latitude", firestore.Asc).
		Limit(limit * firestoreScanFactor).
		Documents(ctx)
	defer iter.Stop()

	bound := bounds.Bound()
	pois := make([]model.POI, 0, limit)
	for len(pois) < limit {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("マシンドキュメントの取得に失敗しました: %w", err)
		}

		var machine model.MachineDocument
		if err := doc.DataTo(&machine); err != nil {
			return nil, fmt.Errorf("データの変換に失敗しました (%s): %w", doc.Ref.ID, err)
		}
		if !inBounds(bound, machine.Latitude, machine.Longitude) {
			continue
		}
		pois = append(pois, machine.ToPOI(doc.Ref.ID))
	}

	return pois, nil
}
