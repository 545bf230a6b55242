// Package recall stores finished diagnostic cases as vectors and looks up
// similar past cases when a new complaint arrives. Everything here is
// best-effort: a conversation never fails because recall is down.
package recall

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Case is one stored diagnostic outcome.
type Case struct {
	ID        string
	UserID    string
	Vehicle   string
	Symptoms  string
	Diagnosis string
	Severity  string
	Embedding []float32
}

// Match is a past case returned by a similarity lookup.
type Match struct {
	ID        string
	Score     float32
	Vehicle   string
	Symptoms  string
	Diagnosis string
	Severity  string
}

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Store is the sole owner of all Qdrant operations.
type Store struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

// NewStore creates a Store connected to Qdrant at the given gRPC address.
func NewStore(addr string, collection string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("recall: dial qdrant %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

func newStoreWithClients(points pointsAPI, collections collectionsAPI, collection string) *Store {
	return &Store{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist.
func (s *Store) EnsureCollection(ctx context.Context, dims int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("recall: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	d := uint64(dims)
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     d,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("recall: create collection %s: %w", s.collection, err)
	}
	return nil
}

// Save stores a finished case.
func (s *Store) Save(ctx context.Context, c Case) error {
	payload := map[string]*pb.Value{
		"user_id":   {Kind: &pb.Value_StringValue{StringValue: c.UserID}},
		"vehicle":   {Kind: &pb.Value_StringValue{StringValue: c.Vehicle}},
		"symptoms":  {Kind: &pb.Value_StringValue{StringValue: c.Symptoms}},
		"diagnosis": {Kind: &pb.Value_StringValue{StringValue: c.Diagnosis}},
		"severity":  {Kind: &pb.Value_StringValue{StringValue: c.Severity}},
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: c.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: c.Embedding},
				},
			},
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("recall: upsert case %s: %w", c.ID, err)
	}
	return nil
}

// DeleteByUser removes every stored case for a user.
func (s *Store) DeleteByUser(ctx context.Context, userID string) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						fieldMatch("user_id", userID),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("recall: delete cases for user %s: %w", userID, err)
	}
	return nil
}

// Search performs k-NN similarity search over stored cases. An empty userID
// searches across all users.
func (s *Store) Search(ctx context.Context, embedding []float32, topK int, userID string) ([]Match, error) {
	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if userID != "" {
		req.Filter = &pb.Filter{Must: []*pb.Condition{fieldMatch("user_id", userID)}}
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("recall: search: %w", err)
	}

	matches := make([]Match, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		m := Match{
			ID:    r.GetId().GetUuid(),
			Score: r.GetScore(),
		}
		for k, val := range r.GetPayload() {
			v := val.GetStringValue()
			switch k {
			case "vehicle":
				m.Vehicle = v
			case "symptoms":
				m.Symptoms = v
			case "diagnosis":
				m.Diagnosis = v
			case "severity":
				m.Severity = v
			}
		}
		matches[i] = m
	}
	return matches, nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
