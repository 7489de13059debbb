package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GridFSStore keeps objects in a MongoDB GridFS bucket, one file per key.
type GridFSStore struct {
	client *mongo.Client
	bucket *gridfs.Bucket
}

var _ Store = (*GridFSStore)(nil)

// Connect opens a client and the named bucket and verifies connectivity.
func Connect(ctx context.Context, uri, database, bucket string) (*GridFSStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	s, err := NewGridFSStore(client, database, bucket)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func NewGridFSStore(client *mongo.Client, database, bucket string) (*GridFSStore, error) {
	b, err := gridfs.NewBucket(client.Database(database), options.GridFSBucket().SetName(bucket))
	if err != nil {
		return nil, fmt.Errorf("opening gridfs bucket %s: %w", bucket, err)
	}
	return &GridFSStore{client: client, bucket: b}, nil
}

func (s *GridFSStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type fileDoc struct {
	ID primitive.ObjectID `bson:"_id"`
}

// Put uploads a new revision and then removes older revisions of key, so a
// redelivered write leaves exactly one file behind.
func (s *GridFSStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := s.bucket.SetWriteDeadline(deadline(ctx)); err != nil {
		return err
	}
	opts := options.GridFSUpload().SetMetadata(bson.M{"content_type": contentType})
	id, err := s.bucket.UploadFromStream(key, bytes.NewReader(data), opts)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}

	cur, err := s.bucket.Find(bson.M{"filename": key, "_id": bson.M{"$ne": id}})
	if err != nil {
		return fmt.Errorf("listing revisions of %s: %w", key, err)
	}
	var old []fileDoc
	if err := cur.All(ctx, &old); err != nil {
		return fmt.Errorf("reading revisions of %s: %w", key, err)
	}
	for _, f := range old {
		if err := s.bucket.Delete(f.ID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return fmt.Errorf("deleting old revision of %s: %w", key, err)
		}
	}
	return nil
}

func (s *GridFSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.bucket.SetReadDeadline(deadline(ctx)); err != nil {
		return nil, err
	}
	stream, err := s.bucket.OpenDownloadStreamByName(key)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", key, err)
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, nil
}

// Revisions counts the stored files for key.
func (s *GridFSStore) Revisions(ctx context.Context, key string) (int, error) {
	cur, err := s.bucket.Find(bson.M{"filename": key})
	if err != nil {
		return 0, err
	}
	var files []fileDoc
	if err := cur.All(ctx, &files); err != nil {
		return 0, err
	}
	return len(files), nil
}

// deadline maps ctx to a GridFS deadline; the zero time means none.
func deadline(ctx context.Context) time.Time {
	d, _ := ctx.Deadline()
	return d
}
