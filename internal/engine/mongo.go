package engine

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/crasbi/crasbi-api/internal/models"
)

func connectMongo(ctx context.Context, conn *models.Connection, password string, timeout time.Duration) (*mongo.Client, error) {
	uri, err := conn.GenerateConnString(password)
	if err != nil {
		return nil, err
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetConnectTimeout(timeout))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to MongoDB")
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, errors.Wrapf(err, "pinging MongoDB at %s", conn.Address())
	}
	return client, nil
}

// parseFilter reads a job query as an extended JSON filter document.
func parseFilter(query string) (bson.D, error) {
	filter := bson.D{}
	if strings.TrimSpace(query) == "" {
		return filter, nil
	}
	if err := bson.UnmarshalExtJSON([]byte(query), false, &filter); err != nil {
		return nil, errors.Wrap(err, "job query is not a valid MongoDB filter document")
	}
	return filter, nil
}

// mongoSource reads a collection. Columns are the top-level keys of the first
// document; keys missing from later documents load as NULL and extra keys are
// ignored.
type mongoSource struct {
	ctx     context.Context
	client  *mongo.Client
	cursor  *mongo.Cursor
	columns []Column
	first   bson.D
	values  []interface{}
	err     error
}

func openMongoSource(ctx context.Context, conn *models.Connection, password string, job *models.Job, timeout time.Duration) (*mongoSource, error) {
	if conn.DatabaseName == "" {
		return nil, errors.New("MongoDB connections need a database_name")
	}
	filter, err := parseFilter(job.JobQuery)
	if err != nil {
		return nil, err
	}

	client, err := connectMongo(ctx, conn, password, timeout)
	if err != nil {
		return nil, err
	}
	cursor, err := client.Database(conn.DatabaseName).Collection(job.SourceTable).Find(ctx, filter)
	if err != nil {
		client.Disconnect(context.Background())
		return nil, errors.Wrapf(err, "querying collection %s", job.SourceTable)
	}

	src := &mongoSource{ctx: ctx, client: client, cursor: cursor}
	if cursor.Next(ctx) {
		if err := cursor.Decode(&src.first); err != nil {
			src.Close()
			return nil, errors.Wrap(err, "decoding document")
		}
		for _, e := range src.first {
			src.columns = append(src.columns, Column{Name: e.Key, Type: bsonType(e.Value)})
		}
	} else if err := cursor.Err(); err != nil {
		src.Close()
		return nil, errors.Wrapf(err, "reading collection %s", job.SourceTable)
	}
	return src, nil
}

func (s *mongoSource) Columns() []Column { return s.columns }

func (s *mongoSource) Next() bool {
	if s.err != nil || len(s.columns) == 0 {
		return false
	}
	var doc bson.D
	if s.first != nil {
		doc, s.first = s.first, nil
	} else {
		if !s.cursor.Next(s.ctx) {
			return false
		}
		if err := s.cursor.Decode(&doc); err != nil {
			s.err = errors.Wrap(err, "decoding document")
			return false
		}
	}

	fields := make(map[string]interface{}, len(doc))
	for _, e := range doc {
		fields[e.Key] = e.Value
	}
	values := make([]interface{}, len(s.columns))
	for i, c := range s.columns {
		v, err := bsonValue(c.Type, fields[c.Name])
		if err != nil {
			s.err = errors.Wrapf(err, "field %s", c.Name)
			return false
		}
		values[i] = v
	}
	s.values = values
	return true
}

func (s *mongoSource) Values() ([]interface{}, error) { return s.values, nil }

func (s *mongoSource) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.cursor.Err()
}

func (s *mongoSource) Close() error {
	s.cursor.Close(context.Background())
	return s.client.Disconnect(context.Background())
}

func bsonType(v interface{}) string {
	switch v.(type) {
	case int32, int64:
		return typeBigint
	case float64:
		return typeDouble
	case bool:
		return typeBoolean
	case bson.DateTime:
		return typeTimestamp
	case bson.Binary:
		return typeBytea
	}
	return typeText
}

func bsonValue(pgType string, v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case nil, bson.Null, bson.Undefined:
		return nil, nil
	case bson.DateTime:
		v = x.Time()
	case bson.ObjectID:
		v = x.Hex()
	case bson.Decimal128:
		v = x.String()
	case bson.Binary:
		v = x.Data
	case bson.D, bson.A:
		raw, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: x}}, false, false)
		if err != nil {
			return nil, err
		}
		// strip the {"v": ...} wrapper
		v = strings.TrimSuffix(strings.TrimPrefix(string(raw), `{"v":`), "}")
	}
	return coerce(pgType, v)
}
