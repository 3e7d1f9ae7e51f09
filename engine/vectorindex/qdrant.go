package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/microsoft/kernel-memory/engine/domain"
	"github.com/microsoft/kernel-memory/pkg/resilience"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// recordIDField and friends are the Qdrant payload keys used to recover a
// MemoryRecord's caller-facing id, tags, and opaque payload from a point.
// tagsField holds "key:value" composite strings in a list, so a
// Qdrant field-match condition against it performs array-contains semantics
// natively — exactly the AND-of-equalities the filter model requires.
const (
	recordIDField = "__record_id"
	payloadField  = "__payload"
	tagsField     = "tags"
)

// QdrantIndex is the StandaloneVectorDB driver. It generalizes the
// single fixed Qdrant collection the ingestion pipeline used into any
// number of named, caller-managed collections. Qdrant's Cosine distance
// returns a similarity in [-1,1]; GetSimilar clamps negative scores to 0
// so results share the [0,1] range of the other backends.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	breaker     *resilience.Breaker
}

// NewQdrantIndex dials Qdrant at addr.
func NewQdrantIndex(addr string) (*QdrantIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "dial qdrant "+addr, err)
	}
	return &QdrantIndex{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		breaker:     resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}, nil
}

func (q *QdrantIndex) Close() error { return q.conn.Close() }

// call runs fn behind the index's circuit breaker, translating a tripped
// breaker into the same KindTransientIO callers already expect from a
// failing Qdrant RPC.
func (q *QdrantIndex) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := q.breaker.Call(ctx, fn); err != nil {
		if err == resilience.ErrCircuitOpen {
			return domain.NewError(domain.KindTransientIO, op+": circuit open", err)
		}
		return err
	}
	return nil
}

func (q *QdrantIndex) CreateIndex(ctx context.Context, name string, dim int) error {
	var list *pb.ListCollectionsResponse
	if err := q.call(ctx, "list collections", func(ctx context.Context) error {
		var err error
		list, err = q.collections.List(ctx, &pb.ListCollectionsRequest{})
		return err
	}); err != nil {
		return domain.NewError(domain.KindTransientIO, "list collections", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == name {
			return nil
		}
	}

	if err := q.call(ctx, "create collection "+name, func(ctx context.Context) error {
		_, err := q.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: name,
			VectorsConfig: &pb.VectorsConfig{
				Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{
						Size:     uint64(dim),
						Distance: pb.Distance_Cosine,
					},
				},
			},
		})
		return err
	}); err != nil {
		return domain.NewError(domain.KindTransientIO, "create collection "+name, err)
	}
	return nil
}

func (q *QdrantIndex) DeleteIndex(ctx context.Context, name string) error {
	if domain.IsReservedIndexName(name) {
		// delete_index("default") is a no-op: it returns nil, logs nothing,
		// and leaves the collection in place.
		return nil
	}
	if err := q.call(ctx, "delete collection "+name, func(ctx context.Context) error {
		_, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name})
		return err
	}); err != nil {
		return domain.NewError(domain.KindTransientIO, "delete collection "+name, err)
	}
	return nil
}

func (q *QdrantIndex) ListIndexes(ctx context.Context) ([]string, error) {
	var list *pb.ListCollectionsResponse
	if err := q.call(ctx, "list collections", func(ctx context.Context) error {
		var err error
		list, err = q.collections.List(ctx, &pb.ListCollectionsRequest{})
		return err
	}); err != nil {
		return nil, domain.NewError(domain.KindTransientIO, "list collections", err)
	}
	out := make([]string, 0, len(list.GetCollections()))
	for _, c := range list.GetCollections() {
		out = append(out, c.GetName())
	}
	return out, nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, name string, records []domain.MemoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload, err := recordPayload(r)
		if err != nil {
			return domain.NewError(domain.KindValidation, "encode payload", err)
		}
		points[i] = &pb.PointStruct{
			Id:      pointID(name, r.ID),
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Vector}}},
			Payload: payload,
		}
	}
	wait := true
	if err := q.call(ctx, fmt.Sprintf("upsert %d points", len(records)), func(ctx context.Context) error {
		_, err := q.points.Upsert(ctx, &pb.UpsertPoints{CollectionName: name, Wait: &wait, Points: points})
		return err
	}); err != nil {
		return domain.NewError(domain.KindTransientIO, fmt.Sprintf("upsert %d points", len(records)), err)
	}
	return nil
}

func (q *QdrantIndex) Delete(ctx context.Context, name string, ids []string) error {
	for _, id := range ids {
		wait := true
		if err := q.call(ctx, "delete point "+id, func(ctx context.Context) error {
			_, err := q.points.Delete(ctx, &pb.DeletePoints{
				CollectionName: name,
				Wait:           &wait,
				Points: &pb.PointsSelector{
					PointsSelectorOneOf: &pb.PointsSelector_Points{
						Points: &pb.PointsIdsList{Ids: []*pb.PointId{pointID(name, id)}},
					},
				},
			})
			return err
		}); err != nil {
			return domain.NewError(domain.KindTransientIO, "delete point "+id, err)
		}
	}
	return nil
}

func (q *QdrantIndex) GetSimilar(ctx context.Context, name string, embedding []float32, filters []Filter, minRelevance float32, limit int) ([]SearchResult, error) {
	req := &pb.SearchPoints{
		CollectionName: name,
		Vector:         embedding,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if cond := filterCondition(filters); cond != nil {
		req.Filter = cond
	}

	var resp *pb.SearchResponse
	if err := q.call(ctx, "search", func(ctx context.Context) error {
		var err error
		resp, err = q.points.Search(ctx, req)
		return err
	}); err != nil {
		return nil, domain.NewError(domain.KindTransientIO, "search", err)
	}

	out := make([]SearchResult, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		if r.GetScore() < minRelevance {
			continue
		}
		rec, err := recordFromPayload(r.GetPayload())
		if err != nil {
			continue
		}
		score := r.GetScore()
		if score < 0 {
			score = 0
		}
		out = append(out, SearchResult{Record: rec, Score: score})
	}
	return out, nil
}

func (q *QdrantIndex) GetList(ctx context.Context, name string, filters []Filter, limit int) ([]domain.MemoryRecord, error) {
	req := &pb.ScrollPoints{
		CollectionName: name,
		Limit:          uint32ptr(uint32(limit)),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if cond := filterCondition(filters); cond != nil {
		req.Filter = cond
	}
	var resp *pb.ScrollResponse
	if err := q.call(ctx, "scroll", func(ctx context.Context) error {
		var err error
		resp, err = q.points.Scroll(ctx, req)
		return err
	}); err != nil {
		return nil, domain.NewError(domain.KindTransientIO, "scroll", err)
	}
	out := make([]domain.MemoryRecord, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		rec, err := recordFromPayload(p.GetPayload())
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func uint32ptr(v uint32) *uint32 { return &v }

func pointID(collection, recordID string) *pb.PointId {
	u := uuid.NewSHA1(uuid.NameSpaceOID, []byte(collection+":"+recordID))
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: u.String()}}
}

func recordPayload(r domain.MemoryRecord) (map[string]*pb.Value, error) {
	payloadJSON, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, err
	}

	var composites []*pb.Value
	for k, values := range r.Tags {
		for _, v := range values {
			composites = append(composites, &pb.Value{
				Kind: &pb.Value_StringValue{StringValue: k + domain.TagSeparator + v},
			})
		}
	}

	return map[string]*pb.Value{
		recordIDField: {Kind: &pb.Value_StringValue{StringValue: r.ID}},
		payloadField:  {Kind: &pb.Value_StringValue{StringValue: string(payloadJSON)}},
		tagsField:     {Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: composites}}},
	}, nil
}

func recordFromPayload(payload map[string]*pb.Value) (domain.MemoryRecord, error) {
	rec := domain.MemoryRecord{
		ID:      payload[recordIDField].GetStringValue(),
		Payload: make(map[string]any),
		Tags:    make(domain.Tags),
	}
	if s := payload[payloadField].GetStringValue(); s != "" {
		_ = json.Unmarshal([]byte(s), &rec.Payload)
	}
	for _, v := range payload[tagsField].GetListValue().GetValues() {
		composite := v.GetStringValue()
		k, val, ok := splitComposite(composite)
		if ok {
			rec.Tags.Add(k, val)
		}
	}
	return rec, nil
}

func splitComposite(composite string) (key, value string, ok bool) {
	for i := 0; i < len(composite); i++ {
		if string(composite[i]) == domain.TagSeparator {
			return composite[:i], composite[i+1:], true
		}
	}
	return "", "", false
}

// filterCondition translates an OR-of-ANDs Filter list into a Qdrant filter:
// each Filter group becomes a "should" clause of "must" field matches
// against the tags array, which Qdrant evaluates with contains semantics.
func filterCondition(filters []Filter) *pb.Filter {
	groups := make([]*pb.Condition, 0, len(filters))
	for _, group := range filters {
		if len(group) == 0 {
			continue
		}
		must := make([]*pb.Condition, 0, len(group))
		for k, v := range group {
			must = append(must, fieldMatch(tagsField, k+domain.TagSeparator+v))
		}
		groups = append(groups, &pb.Condition{
			ConditionOneOf: &pb.Condition_Filter{
				Filter: &pb.Filter{Must: must},
			},
		})
	}
	if len(groups) == 0 {
		return nil
	}
	return &pb.Filter{Should: groups}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

var _ Index = (*QdrantIndex)(nil)
