package cachestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/interlock-studios/creva-ingest/internal/obslog"
)

var log = obslog.For("cachestore")

// firestoreEntry is the on-disk document shape, grounded on
// cache_service.py's cache_data dict (workout_json/metadata/created_at/
// expires_at/tiktok_url/localization/ttl_hours).
type firestoreEntry struct {
	Payload   map[string]any `firestore:"payload"`
	Metadata  map[string]any `firestore:"metadata"`
	SourceURL string         `firestore:"source_url"`
	Locale    string         `firestore:"locale"`
	CreatedAt time.Time      `firestore:"created_at"`
	ExpiresAt time.Time      `firestore:"expires_at"`
	TTLHours  int            `firestore:"ttl_hours"`
}

// FirestoreStore is the C2 persistent tier, one document per fingerprint.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore builds a Store backed by a single Firestore collection.
func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{client: client, collection: collection}
}

func (s *FirestoreStore) col() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

func (s *FirestoreStore) Get(ctx context.Context, fingerprint string) (Entry, error) {
	doc, err := s.col().Doc(fingerprint).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Entry{}, ErrMiss
		}
		log.WithError(err).WithField("fingerprint", fingerprint).Warn("cache get failed, treating as miss")
		return Entry{}, ErrMiss
	}

	var fe firestoreEntry
	if err := doc.DataTo(&fe); err != nil {
		log.WithError(err).WithField("fingerprint", fingerprint).Warn("cache decode failed, treating as miss")
		return Entry{}, ErrMiss
	}

	if time.Now().UTC().After(fe.ExpiresAt) {
		if _, err := s.col().Doc(fingerprint).Delete(ctx); err != nil {
			log.WithError(err).WithField("fingerprint", fingerprint).Warn("failed to delete expired cache entry")
		}
		return Entry{}, ErrMiss
	}

	return Entry{
		Fingerprint: fingerprint,
		Payload:     fe.Payload,
		Metadata:    fe.Metadata,
		SourceURL:   fe.SourceURL,
		Locale:      fe.Locale,
		CreatedAt:   fe.CreatedAt,
		ExpiresAt:   fe.ExpiresAt,
		TTLHours:    fe.TTLHours,
	}, nil
}

func (s *FirestoreStore) Put(ctx context.Context, fingerprint string, payload, metadata map[string]any, sourceURL, locale string, ttlHours int) error {
	now := time.Now().UTC()
	fe := firestoreEntry{
		Payload:   payload,
		Metadata:  metadata,
		SourceURL: sourceURL,
		Locale:    locale,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(ttlHours) * time.Hour),
		TTLHours:  ttlHours,
	}
	_, err := s.col().Doc(fingerprint).Set(ctx, fe)
	return err
}

func (s *FirestoreStore) Invalidate(ctx context.Context, fingerprint string) (bool, error) {
	docRef := s.col().Doc(fingerprint)
	if _, err := docRef.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, err
	}
	if _, err := docRef.Delete(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Stats samples up to 1000 documents for a count and a further 10
// most-recently-created documents for an expired-in-sample estimate,
// mirroring cache_service.py's get_cache_stats bounded queries.
func (s *FirestoreStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{}

	iter := s.col().Limit(1000).Documents(ctx)
	defer iter.Stop()
	for {
		_, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return stats, err
		}
		stats.TotalSampled++
	}

	now := time.Now().UTC()
	recent := s.col().OrderBy("created_at", firestore.Desc).Limit(10).Documents(ctx)
	defer recent.Stop()
	for {
		doc, err := recent.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return stats, err
		}
		var fe firestoreEntry
		if err := doc.DataTo(&fe); err != nil {
			continue
		}
		stats.TTLHours = fe.TTLHours
		if now.After(fe.ExpiresAt) {
			stats.ExpiredInSample++
		}
	}

	return stats, nil
}

// ClearAll deletes every document in the cache collection in batches of
// up to 500 writes per commit, matching cache_service.py's
// clear_all_workout_cache.
func (s *FirestoreStore) ClearAll(ctx context.Context) (int, error) {
	const batchLimit = 500

	iter := s.col().Documents(ctx)
	defer iter.Stop()

	deleted := 0
	batch := s.client.Batch()
	pending := 0

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return deleted, err
		}
		batch.Delete(doc.Ref)
		pending++
		deleted++

		if pending >= batchLimit {
			if _, err := batch.Commit(ctx); err != nil {
				return deleted, err
			}
			batch = s.client.Batch()
			pending = 0
		}
	}

	if pending > 0 {
		if _, err := batch.Commit(ctx); err != nil {
			return deleted, err
		}
	}

	return deleted, nil
}
