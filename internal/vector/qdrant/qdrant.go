// Package qdrant implements vector.Index on a Qdrant collection over gRPC.
package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/efebarandurmaz/whetstone/internal/vector"
)

// Payload keys.
const (
	keyUnitID    = "unit_id"
	keyDocument  = "document"
	keyFilePath  = "file_path"
	keyUnitType  = "unit_type"
	keyName      = "name"
	keyLanguage  = "language"
	keyRepo      = "repo"
	keyLineStart = "line_start"
	keyLineEnd   = "line_end"
)

// Config describes the connection and collection.
type Config struct {
	Host       string
	Port       int
	Collection string
	// Dimension is the vector size used when the collection must be created.
	// Zero skips collection creation.
	Dimension int
}

// Index implements vector.Index using Qdrant.
type Index struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// New connects to Qdrant and, when cfg.Dimension is set, creates the
// collection with cosine distance if it does not exist yet.
func New(ctx context.Context, cfg Config) (*Index, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	idx := &Index{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  cfg.Collection,
	}
	if cfg.Dimension > 0 {
		if err := idx.ensureCollection(ctx, cfg.Dimension); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return idx, nil
}

func (r *Index) ensureCollection(ctx context.Context, dim int) error {
	exists, err := r.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: r.collection})
	if err != nil {
		return fmt.Errorf("qdrant collection exists: %w", err)
	}
	if exists.GetResult().GetExists() {
		return nil
	}

	_, err = r.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{
			Size:     uint64(dim),
			Distance: pb.Distance_Cosine,
		}}},
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection: %w", err)
	}

	// file_path stays unindexed: without a full-text index Qdrant's text match
	// is a plain substring match, which is what FilePathContains needs.
	_, err = r.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: r.collection,
		FieldName:      keyRepo,
		FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("qdrant create repo index: %w", err)
	}
	return nil
}

// PointID derives the deterministic point UUID for a unit id.
func PointID(unitID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(unitID)).String()
}

func (r *Index) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(docs))
	for i, d := range docs {
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(d.ID)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: d.Vector}}},
			Payload: toPayload(d),
		}
	}

	wait := true
	_, err := r.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (r *Index) Query(ctx context.Context, vec []float32, k int, filter *vector.Filter) (*vector.QueryResult, error) {
	resp, err := r.points.Search(ctx, &pb.SearchPoints{
		CollectionName: r.collection,
		Vector:         vec,
		Limit:          uint64(k),
		Filter:         toFilter(filter),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	res := &vector.QueryResult{}
	for _, pt := range resp.GetResult() {
		id, doc, meta := fromPayload(pt.GetId(), pt.GetPayload())
		res.IDs = append(res.IDs, id)
		// Qdrant reports cosine similarity as the score.
		res.Distances = append(res.Distances, 1-float64(pt.GetScore()))
		res.Documents = append(res.Documents, doc)
		res.Metadatas = append(res.Metadatas, meta)
	}
	return res, nil
}

func (r *Index) Get(ctx context.Context, filter *vector.Filter, limit int) (*vector.GetResult, error) {
	const page = 256
	res := &vector.GetResult{}
	var offset *pb.PointId
	for {
		n := uint32(page)
		if limit > 0 && limit-res.Len() < page {
			n = uint32(limit - res.Len())
		}
		resp, err := r.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: r.collection,
			Filter:         toFilter(filter),
			Offset:         offset,
			Limit:          &n,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant scroll: %w", err)
		}
		for _, pt := range resp.GetResult() {
			id, doc, meta := fromPayload(pt.GetId(), pt.GetPayload())
			res.IDs = append(res.IDs, id)
			res.Documents = append(res.Documents, doc)
			res.Metadatas = append(res.Metadatas, meta)
		}
		offset = resp.GetNextPageOffset()
		if offset == nil || (limit > 0 && res.Len() >= limit) {
			return res, nil
		}
	}
}

func (r *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id)}}
	}
	wait := true
	_, err := r.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{PointsSelectorOneOf: &pb.PointsSelector_Points{
			Points: &pb.PointsIdsList{Ids: pointIDs},
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

func (r *Index) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := r.points.Count(ctx, &pb.CountPoints{CollectionName: r.collection, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func (r *Index) Close() error {
	return r.conn.Close()
}

var _ vector.Index = (*Index)(nil)

func toFilter(f *vector.Filter) *pb.Filter {
	if f.IsZero() {
		return nil
	}
	var must []*pb.Condition
	if f.Repo != "" {
		must = append(must, fieldMatch(keyRepo, &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: f.Repo}}))
	}
	if f.FilePathContains != "" {
		must = append(must, fieldMatch(keyFilePath, &pb.Match{MatchValue: &pb.Match_Text{Text: f.FilePathContains}}))
	}
	return &pb.Filter{Must: must}
}

func fieldMatch(key string, m *pb.Match) *pb.Condition {
	return &pb.Condition{ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{Key: key, Match: m}}}
}

func toPayload(d vector.Document) map[string]*pb.Value {
	str := func(s string) *pb.Value { return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}} }
	p := map[string]*pb.Value{
		keyUnitID:   str(d.ID),
		keyDocument: str(d.Content),
		keyFilePath: str(d.Metadata.FilePath),
		keyUnitType: str(d.Metadata.UnitType),
		keyName:     str(d.Metadata.Name),
		keyLanguage: str(d.Metadata.Language),
		keyRepo:     str(d.Metadata.Repo),
	}
	if d.Metadata.LineStart > 0 {
		p[keyLineStart] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(d.Metadata.LineStart)}}
		p[keyLineEnd] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(d.Metadata.LineEnd)}}
	}
	return p
}

func fromPayload(pid *pb.PointId, p map[string]*pb.Value) (id, doc string, meta vector.Metadata) {
	id = p[keyUnitID].GetStringValue()
	if id == "" {
		id = pid.GetUuid()
	}
	meta = vector.Metadata{
		FilePath:  p[keyFilePath].GetStringValue(),
		UnitType:  p[keyUnitType].GetStringValue(),
		Name:      p[keyName].GetStringValue(),
		Language:  p[keyLanguage].GetStringValue(),
		Repo:      p[keyRepo].GetStringValue(),
		LineStart: int(p[keyLineStart].GetIntegerValue()),
		LineEnd:   int(p[keyLineEnd].GetIntegerValue()),
	}
	return id, p[keyDocument].GetStringValue(), meta
}
